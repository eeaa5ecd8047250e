package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/container"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/service"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
)

// ArtifactViewer resolves browser paths to stored blobs
type ArtifactViewer interface {
	Blob(ctx context.Context, pathname string) (*models.Upload, error)
	Resolve(ctx context.Context, q repository.ViewQuery) (*models.Upload, error)
	List(ctx context.Context, owner, repo string, limit int) ([]service.ViewEntry, error)
}

// ViewHandler serves artifact lookups for browsers
type ViewHandler struct {
	view ArtifactViewer
}

// NewViewHandler creates a new view handler
func NewViewHandler(c *container.Container) *ViewHandler {
	return &ViewHandler{view: c.ViewService}
}

// Blob redirects to the newest blob stored under a pathname alias
// GET /artifact/blob/*
func (h *ViewHandler) Blob(c echo.Context) error {
	upload, err := h.view.Blob(c.Request().Context(), param(c, "*"))
	if err != nil {
		return err
	}
	return redirect(c, upload)
}

// View redirects to a file of the newest upload matching a run, commit or branch
// GET /artifact/view/:owner/:repo/:aliasType/:identifier/*
func (h *ViewHandler) View(c echo.Context) error {
	upload, err := h.view.Resolve(c.Request().Context(), repository.ViewQuery{
		Owner:      param(c, "owner"),
		Repo:       param(c, "repo"),
		AliasType:  models.AliasType(param(c, "aliasType")),
		Identifier: param(c, "identifier"),
		Path:       param(c, "*"),
	})
	if err != nil {
		return err
	}
	return redirect(c, upload)
}

// List shows recent uploads of a repository
// GET /artifact/view/:owner/:repo?limit=20
func (h *ViewHandler) List(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperr.Validation("limit must be a positive integer")
		}
		limit = n
	}

	owner, repo := param(c, "owner"), param(c, "repo")
	entries, err := h.view.List(c.Request().Context(), owner, repo, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"owner":   owner,
		"repo":    repo,
		"uploads": entries,
	})
}

func redirect(c echo.Context, upload *models.Upload) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Redirect(http.StatusFound, upload.BlobURL)
}

// param returns a path parameter with percent-encoding removed
func param(c echo.Context, name string) string {
	v := c.Param(name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}
