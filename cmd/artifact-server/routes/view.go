package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/container"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/handlers"
)

// RegisterViewRoutes registers browser-facing artifact routes
func RegisterViewRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewViewHandler(c)

	artifact := e.Group("/artifact")
	{
		artifact.GET("/blob/*", h.Blob)                                     // GET /artifact/blob/{pathname}
		artifact.GET("/view/:owner/:repo", h.List)                          // GET /artifact/view/{owner}/{repo}
		artifact.GET("/view/:owner/:repo/:aliasType/:identifier/*", h.View) // GET /artifact/view/{owner}/{repo}/{run|commit|branch}/{id}/{path}
	}
}
