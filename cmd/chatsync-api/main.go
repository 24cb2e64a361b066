package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.im.chatsync/internal/config"
	"sudooom.im.chatsync/internal/handler"
	"sudooom.im.chatsync/internal/health"
	"sudooom.im.chatsync/internal/nats"
	"sudooom.im.chatsync/internal/repository"
	"sudooom.im.chatsync/internal/router"
	"sudooom.im.chatsync/internal/service"
	"sudooom.im.chatsync/pkg/snowflake"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	nodeID := flag.Int64("node", 1, "snowflake node id")
	flag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	if cfg.Server.UploadSecret == "" {
		logger.Error("server.upload_secret must be set")
		os.Exit(1)
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	if err := repository.Migrate(ctx, db); err != nil {
		logger.Error("Failed to migrate schema", "error", err)
		os.Exit(1)
	}

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "host", cfg.Redis.Host)

	// NATS 可选，只用于健康检查展示
	var nc *natsgo.Conn
	if cfg.NATS.Enabled {
		natsClient, err := nats.NewClient(cfg.NATS)
		if err != nil {
			logger.Warn("NATS unavailable, continuing without it", "error", err)
		} else {
			defer natsClient.Close()
			nc = natsClient.Conn()
		}
	}

	// 初始化雪花ID生成器
	sfNode, err := snowflake.NewNode(*nodeID)
	if err != nil {
		logger.Error("Failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	// 初始化 Repository
	messageRepo := repository.NewMessageRepository(db)
	reactionRepo := repository.NewReactionRepository(db)
	conversationRepo := repository.NewConversationRepository(db)

	// 初始化 Service
	readState := service.NewReadStateService(redisClient)
	signer := service.NewUploadSigner(cfg.Server.UploadSecret, cfg.Server.PublicBaseURL, cfg.Server.UploadTTL, cfg.Server.MaxUploadSize)
	store, err := service.NewBlobStore(cfg.Server.UploadDir)
	if err != nil {
		logger.Error("Failed to open upload dir", "dir", cfg.Server.UploadDir, "error", err)
		os.Exit(1)
	}
	verifier := service.NewAttachmentVerifier(signer, store)
	messageService := service.NewMessageService(messageRepo, reactionRepo, conversationRepo, readState, verifier, sfNode)

	// 初始化 Handler
	messageHandler := handler.NewMessageHandler(messageService)
	uploadHandler := handler.NewUploadHandler(messageService, signer, store)

	// 设置路由
	r := router.SetupRouter(cfg, health.NewChecker(db, redisClient, nc), messageHandler, uploadHandler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server started", "addr", cfg.Server.Addr, "mode", cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	cancel()
	logger.Info("Server stopped")
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
