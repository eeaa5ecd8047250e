package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// HTTPOptions tunes the retrying transport
type HTTPOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
}

// DefaultHTTPOptions are used for zero fields
var DefaultHTTPOptions = HTTPOptions{
	Timeout:      10 * time.Second,
	RetryMax:     3,
	RetryWaitMin: 200 * time.Millisecond,
	RetryWaitMax: 2 * time.Second,
	UserAgent:    "artifact.ci",
}

// HTTPClient wraps a retrying client with context-aware helpers.
// Connection errors and 502/503/504 responses are retried; once retries are
// exhausted the last response is returned to the caller.
type HTTPClient struct {
	client    *retryablehttp.Client
	logger    Logger
	userAgent string
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(opts HTTPOptions, logger Logger) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultHTTPOptions.Timeout
	}
	if opts.RetryWaitMin == 0 {
		opts.RetryWaitMin = DefaultHTTPOptions.RetryWaitMin
	}
	if opts.RetryWaitMax == 0 {
		opts.RetryWaitMax = DefaultHTTPOptions.RetryWaitMax
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultHTTPOptions.UserAgent
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: opts.Timeout}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Logger = logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = retryGatewayErrors

	return &HTTPClient{
		client:    rc,
		logger:    logger,
		userAgent: opts.UserAgent,
	}
}

// DoRequest creates and executes an HTTP request, extracting metadata from context.
// body may be nil; it is replayed on every retry.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	var reqBody interface{}
	if body != nil {
		reqBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if token, ok := GetGitHubToken(ctx); ok {
		(&oauth2.Token{AccessToken: token}).SetAuthHeader(req.Request)
	}

	return c.client.Do(req)
}

// retryGatewayErrors retries transport failures and gateway errors only.
// Other statuses, 429 and 500 included, are answers from the server.
func retryGatewayErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}
