package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SensibleWeather/artifact.ci/common/sdk"
)

// APIError is a non-2xx response from the artifact server
type APIError struct {
	StatusCode int
	Message    string
	Detail     json.RawMessage
}

func (e *APIError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("artifact server returned %d: %s (%s)", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("artifact server returned %d: %s", e.StatusCode, e.Message)
}

// ArtifactClient is used by CI jobs to request tokens, upload files and confirm them.
// The server origin is passed in explicitly.
type ArtifactClient struct {
	origin string
	http   *HTTPClient
	logger Logger
}

// NewArtifactClient creates a client for the server at origin
func NewArtifactClient(origin string, http *HTTPClient, logger Logger) *ArtifactClient {
	return &ArtifactClient{
		origin: strings.TrimRight(origin, "/"),
		http:   http,
		logger: logger,
	}
}

// RequestTokens asks for one upload token per file
func (c *ArtifactClient) RequestTokens(ctx context.Context, req *sdk.BulkRequest) (*sdk.BulkResponse, error) {
	req.Type = sdk.EventBulk

	var out sdk.BulkResponse
	if err := c.postJSON(ctx, "/artifact/upload/signed-url", req, &out); err != nil {
		return nil, err
	}

	c.logger.Info("upload tokens issued", "files", len(out.Results), "entrypoints", out.Entrypoints)
	return &out, nil
}

// Upload PUTs content to the presigned URL of one result
func (c *ArtifactClient) Upload(ctx context.Context, result sdk.BulkResult, content []byte) error {
	header := http.Header{}
	for k, v := range result.UploadHeaders {
		header.Set(k, v)
	}
	if header.Get("Content-Type") == "" && result.ContentType != "" {
		header.Set("Content-Type", result.ContentType)
	}

	resp, err := c.http.DoRequest(ctx, http.MethodPut, result.UploadURL, content, header)
	if err != nil {
		return fmt.Errorf("upload %s: %w", result.Pathname, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload %s: storage returned %d: %s", result.Pathname, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Debug("file uploaded", "pathname", result.Pathname, "bytes", len(content))
	return nil
}

// Complete confirms an upload so the server records its aliases
func (c *ArtifactClient) Complete(ctx context.Context, clientToken string) (*sdk.CompleteResponse, error) {
	var out sdk.CompleteResponse
	if err := c.postJSON(ctx, "/artifact/upload/complete", sdk.CompleteRequest{ClientToken: clientToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ArtifactClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := c.http.DoRequest(ctx, http.MethodPost, c.origin+path, body, header)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("POST %s: failed to read response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errBody struct {
			Message string          `json:"message"`
			Error   json.RawMessage `json:"error"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Message != "" {
			apiErr.Message = errBody.Message
			apiErr.Detail = errBody.Error
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("POST %s: failed to decode response: %w", path, err)
	}
	return nil
}
