package routes

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/container"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/handlers"
	"github.com/SensibleWeather/artifact.ci/common/middleware"
)

// RegisterUploadRoutes registers token issuance and completion routes
func RegisterUploadRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewUploadHandler(c)
	cfg := c.Components.Config

	upload := e.Group("/artifact/upload")
	upload.Use(echomw.BodyLimit("8M"))
	{
		signedURL := []echo.MiddlewareFunc{}
		if cfg.RateLimit.Enabled && c.RateLimiter != nil {
			signedURL = append(signedURL, middleware.IPRateLimitMiddleware(c.RateLimiter, cfg.RateLimit.RequestsPerMin, c.Components.Logger))
		}

		upload.POST("/signed-url", h.SignedURL, signedURL...) // POST /artifact/upload/signed-url (type=bulk | blob.upload-completed)
		upload.POST("/complete", h.Complete)                  // POST /artifact/upload/complete
	}
}
