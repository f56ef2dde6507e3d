package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig tunes the per-IP request budget.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// NewRateLimiter returns fiber middleware enforcing a fixed-window per-IP
// limit via Redis INCR/EXPIRE. Fails open: if Redis is unreachable the
// request proceeds, since blocking all traffic on a cache outage is worse
// than briefly losing the limit.
func NewRateLimiter(logger *zap.Logger, rdb *redis.Client, cfg RateLimitConfig) fiber.Handler {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("ratelimit:%s", c.IP())

		count, err := rdb.Incr(c.Context(), key).Result()
		if err != nil {
			logger.Warn("ratelimit.redis_failed", zap.Error(err))
			return c.Next()
		}
		if count == 1 {
			if err := rdb.Expire(c.Context(), key, cfg.Window).Err(); err != nil {
				logger.Warn("ratelimit.expire_failed", zap.Error(err))
			}
		}

		if count > int64(cfg.MaxRequests) {
			return c.Status(fiber.StatusTooManyRequests).JSON(errorBody{
				Error: "rate limit exceeded",
				Kind:  "rate_limited",
			})
		}
		return c.Next()
	}
}
