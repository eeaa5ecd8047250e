package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/ratelimit"
)

// IPLimiter checks a per-IP request budget
type IPLimiter interface {
	CheckIPLimit(ctx context.Context, ip string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error)
}

// IPRateLimitMiddleware limits requests per client IP.
// Limiter errors let the request through.
func IPRateLimitMiddleware(limiter IPLimiter, limit int64, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			result, err := limiter.CheckIPLimit(c.Request().Context(), ip, limit, ratelimit.DefaultWindowSeconds)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "ip", ip, "error", err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(result.Limit-result.CurrentCount, 0), 10))

			if !result.Allowed {
				h.Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"message": "Too many requests. Please try again later.",
					"error":   map[string]interface{}{
						"kind":                "rate_limited",
						"limit":               result.Limit,
						"window_seconds":      ratelimit.DefaultWindowSeconds,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
