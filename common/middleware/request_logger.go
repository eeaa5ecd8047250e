package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SensibleWeather/artifact.ci/common/logger"
)

// RequestLogger attaches a request-scoped logger to the request context and
// logs one line per request. It expects echo's RequestID middleware to run first.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLog := log.WithRequestID(requestID)
			c.SetRequest(req.WithContext(logger.IntoContext(req.Context(), reqLog)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			attrs := []any{
				"method", req.Method,
				"path", c.Path(),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
			}
			switch {
			case status >= 500:
				reqLog.Error("request failed", append(attrs, "error", err)...)
			case status >= 400 && err != nil:
				reqLog.Warn("request rejected", append(attrs, "error", err)...)
			case status >= 400:
				reqLog.Warn("request rejected", attrs...)
			default:
				reqLog.Info("request completed", attrs...)
			}

			return nil
		}
	}
}
