package telemetry

import (
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensibleWeather/artifact.ci/common/logger"
)

func TestRecorders(t *testing.T) {
	tel := New(6060, 9090, logger.Discard())

	tel.RecordUploadRequest("created")
	tel.RecordUploadRequest("created")
	tel.RecordUploadRequest("rate_limited")
	tel.RecordTokensMinted(3)
	tel.RecordUploads("callback", 2)
	tel.RecordUpstreamError("upstream_unavailable")

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.UploadRequests.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.UploadRequests.WithLabelValues("rate_limited")))
	assert.Equal(t, 3.0, testutil.ToFloat64(tel.TokensMinted))
	assert.Equal(t, 2.0, testutil.ToFloat64(tel.UploadsRecorded.WithLabelValues("callback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.UpstreamErrors.WithLabelValues("upstream_unavailable")))
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		tel.RecordUploadRequest("created")
		tel.RecordTokensMinted(1)
		tel.RecordUploads("client", 1)
		tel.RecordUpstreamError("x")
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	tel := New(6060, 9090, logger.Discard())

	e := echo.New()
	e.Use(tel.Middleware())
	e.GET("/artifact/blob/*", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifact/blob/a/b", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.HTTPRequestsTotal.WithLabelValues("GET", "/artifact/blob/*", "404")))

	metrics := httptest.NewRecorder()
	tel.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), "artifact_http_requests_total")
	assert.Contains(t, metrics.Body.String(), "artifact_build_info")
}

func TestDetectContainer(t *testing.T) {
	missing := func(string) (os.FileInfo, error) { return nil, fs.ErrNotExist }

	in, runtime := detectContainer(missing, func(string) ([]byte, error) {
		return []byte("0::/kubepods/besteffort/pod1234"), nil
	})
	assert.True(t, in)
	assert.Equal(t, "kubernetes", runtime)

	in, runtime = detectContainer(missing, func(string) ([]byte, error) {
		return nil, errors.New("no cgroup")
	})
	assert.False(t, in)
	assert.Empty(t, runtime)
}
