package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StatusUp            = "connected"
	StatusDown          = "disconnected"
	StatusNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service  string `json:"service"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
	NATS     string `json:"nats"`
}

// Healthy 数据库和 Redis 必须可用，NATS 可选
func (s *Status) Healthy() bool {
	return s.Database == StatusUp && s.Redis == StatusUp && s.NATS != StatusDown
}

// Checker 健康检查器
type Checker struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	nc          *nats.Conn
}

// NewChecker 创建健康检查器，nc 为 nil 表示未启用 NATS
func NewChecker(db *pgxpool.Pool, redisClient *redis.Client, nc *nats.Conn) *Checker {
	return &Checker{
		db:          db,
		redisClient: redisClient,
		nc:          nc,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := &Status{
		Service:  "chatsync-api",
		Database: StatusNotConfigured,
		Redis:    StatusNotConfigured,
		NATS:     StatusNotConfigured,
	}

	if h.db != nil {
		status.Database = StatusDown
		if err := h.db.Ping(ctx); err == nil {
			status.Database = StatusUp
		}
	}

	if h.redisClient != nil {
		status.Redis = StatusDown
		if err := h.redisClient.Ping(ctx).Err(); err == nil {
			status.Redis = StatusUp
		}
	}

	if h.nc != nil {
		status.NATS = StatusDown
		if h.nc.IsConnected() {
			status.NATS = StatusUp
		}
	}

	return status
}

// Handle GET /health
func (h *Checker) Handle(c *gin.Context) {
	status := h.Check(c.Request.Context())

	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
