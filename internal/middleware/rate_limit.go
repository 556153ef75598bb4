package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RateLimitConfig holds configuration for the command-API rate limiter
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

// RateLimit creates middleware that throttles clients per IP using a
// fixed one-minute window counter in Redis. Redis outages fail open:
// a monitoring dashboard should degrade, not lock its users out.
func RateLimit(client *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || client == nil {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		allowed, remaining, resetAt, err := allow(c.Request.Context(), client, clientIP, cfg.RequestsPerMinute)
		if err != nil {
			logger.Error("Rate limit check failed", zap.Error(err), zap.String("client_ip", clientIP))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(resetAt-time.Now().Unix(), 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// allow increments the caller's window counter and reports whether the
// request fits under the per-minute limit
func allow(ctx context.Context, client *redis.Client, key string, limit int) (bool, int, int64, error) {
	now := time.Now()
	window := now.Unix() / 60
	countKey := fmt.Sprintf("ratelimit:%s:%d", key, window)
	resetAt := (window + 1) * 60

	count, err := client.Incr(ctx, countKey).Result()
	if err != nil {
		return false, 0, 0, err
	}
	if count == 1 {
		if err := client.Expire(ctx, countKey, time.Minute).Err(); err != nil {
			return false, 0, 0, err
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= limit, remaining, resetAt, nil
}
