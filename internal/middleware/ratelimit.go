package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/acquiro/gateway/internal/logger"
)

// RateLimitMiddleware throttles per-merchant request volume with a Redis
// fixed-window counter, keyed by merchant_id when the request is
// authenticated and by client IP otherwise.
type RateLimitMiddleware struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

type RateLimitConfig struct {
	Redis  *redis.Client
	Limit  int
	Window time.Duration
}

func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimitMiddleware{redis: cfg.Redis, limit: cfg.Limit, window: cfg.Window}
}

var rateLimitScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		subject := MerchantID(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		key := fmt.Sprintf("ratelimit:%s", subject)

		allowed, remaining, err := m.checkLimit(c, key)
		if err != nil {
			log.Warn().Err(err).Msg("rate limit check failed, failing open")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", m.limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(m.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "too many requests",
			})
			return
		}

		c.Next()
	}
}

func (m *RateLimitMiddleware) checkLimit(c *gin.Context, key string) (bool, int, error) {
	ctx := c.Request.Context()
	windowSec := int(m.window.Seconds())

	result, err := rateLimitScript.Run(ctx, m.redis, []string{key}, windowSec).Int()
	if err != nil {
		return true, m.limit, err
	}

	remaining := m.limit - result
	if remaining < 0 {
		remaining = 0
	}
	return result <= m.limit, remaining, nil
}
