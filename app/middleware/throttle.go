package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/medhire/auth-service/config"
)

// NewThrottle builds a fixed-window per-IP rate limiter for the
// credential-facing endpoints (login, password reset request). It fails
// open: if Redis is unavailable the request proceeds and the error is
// logged, since blocking logins on a cache outage would be worse than
// letting a burst through.
func NewThrottle(cfg config.ThrottleConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			key := fmt.Sprintf("%s:%s:%s", cfg.Prefix, c.Path(), ip)

			ctx := c.Request().Context()
			count, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				logrus.WithError(err).Warn("throttle: redis unavailable, failing open")
				return next(c)
			}
			if count == 1 {
				if err := rdb.Expire(ctx, key, cfg.Window).Err(); err != nil {
					logrus.WithError(err).Warn("throttle: failed to set window expiry")
				}
			}

			if count > int64(cfg.Limit) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests, slow down",
				})
			}

			return next(c)
		}
	}
}
