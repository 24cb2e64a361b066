package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"sudooom.im.chatsync/internal/config"
	"sudooom.im.chatsync/pkg/response"
)

// limiterIdle 超过该时长未使用的限流器会被回收
const limiterIdle = 10 * time.Minute

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按调用方身份限流
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*actorLimiter
	limit    rate.Limit
	burst    int
	lastGC   time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*actorLimiter),
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:    burst,
		lastGC:   time.Now(),
	}
}

// Allow 判断 key 是否还有配额
func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > limiterIdle {
		for k, al := range l.limiters {
			if now.Sub(al.lastSeen) > limiterIdle {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}

	al, ok := l.limiters[key]
	if !ok {
		al = &actorLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = al
	}
	al.lastSeen = now
	return al.limiter.AllowN(now, 1)
}

// Middleware 必须挂在 Actor 之后
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetActor(c).Key()
		if !l.Allow(key) {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
