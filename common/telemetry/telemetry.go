package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SensibleWeather/artifact.ci/common/logger"
)

const namespace = "artifact"

// Telemetry holds the metrics registry and the debug endpoints
type Telemetry struct {
	log         *logger.Logger
	registry    *prometheus.Registry
	pprofAddr   string
	metricsAddr string
	servers     []*http.Server

	UploadRequests      *prometheus.CounterVec
	TokensMinted        prometheus.Counter
	UploadsRecorded     *prometheus.CounterVec
	UpstreamErrors      *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates telemetry components with their own registry
func New(pprofPort, metricsPort int, log *logger.Logger) *Telemetry {
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		log:         log,
		registry:    reg,
		pprofAddr:   fmt.Sprintf("localhost:%d", pprofPort),
		metricsAddr: fmt.Sprintf(":%d", metricsPort),

		UploadRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_requests_total",
			Help:      "Upload requests by outcome (created, rate_limited, rejected, failed)",
		}, []string{"outcome"}),
		TokensMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_tokens_minted_total",
			Help:      "Client upload tokens issued",
		}),
		UploadsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_recorded_total",
			Help:      "Alias rows inserted by completion source (callback, client)",
		}, []string{"source"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "GitHub and storage errors by kind",
		}, []string{"kind"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		t.UploadRequests,
		t.TokensMinted,
		t.UploadsRecorded,
		t.UpstreamErrors,
		t.OperationDuration,
		t.HTTPRequestsTotal,
		t.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newBuildInfoCollector(CaptureSystemInfo()),
	)

	return t
}

// Registry exposes the registry for tests and custom collectors
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the registry in the Prometheus text format
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// StartMetrics serves /metrics on the metrics port
func (t *Telemetry) StartMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.serve("metrics", t.metricsAddr, mux)
}

// StartPprof serves the runtime profiler on localhost
func (t *Telemetry) StartPprof() {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	t.serve("pprof", t.pprofAddr, mux)
}

func (t *Telemetry) serve(name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.servers = append(t.servers, srv)

	go func() {
		t.log.Info(name+" server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error(name+" server error", "error", err)
		}
	}()
}

// Shutdown stops the debug servers
func (t *Telemetry) Shutdown(ctx context.Context) {
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			t.log.Warn("telemetry server shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
}

// Middleware records request counts and latency per route
func (t *Telemetry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			t.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
			t.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	if t == nil {
		return
	}
	duration := time.Since(start)
	t.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// RecordUploadRequest counts an upload request outcome
func (t *Telemetry) RecordUploadRequest(outcome string) {
	if t == nil {
		return
	}
	t.UploadRequests.WithLabelValues(outcome).Inc()
}

// RecordTokensMinted counts issued client tokens
func (t *Telemetry) RecordTokensMinted(n int) {
	if t == nil {
		return
	}
	t.TokensMinted.Add(float64(n))
}

// RecordUploads counts inserted alias rows
func (t *Telemetry) RecordUploads(source string, n int) {
	if t == nil {
		return
	}
	t.UploadsRecorded.WithLabelValues(source).Add(float64(n))
}

// RecordUpstreamError counts a failed call to GitHub or storage
func (t *Telemetry) RecordUpstreamError(kind string) {
	if t == nil {
		return
	}
	t.UpstreamErrors.WithLabelValues(kind).Inc()
}
