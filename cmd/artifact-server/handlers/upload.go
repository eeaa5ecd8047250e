package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/container"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/service"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/bootstrap"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/sdk"
)

// UploadHandler issues upload tokens and records completed uploads
type UploadHandler struct {
	components *bootstrap.Components
	bulk       BulkHandler
	recorder   UploadRecorder
}

// BulkHandler issues tokens for a bulk request
type BulkHandler interface {
	Handle(ctx context.Context, req *sdk.BulkRequest) (*sdk.BulkResponse, error)
}

// UploadRecorder records completed uploads
type UploadRecorder interface {
	Record(ctx context.Context, event models.CompletionEvent) ([]*models.Upload, error)
	Complete(ctx context.Context, clientToken string) (*sdk.CompleteResponse, error)
	VerifyCallback(body []byte, signature string) error
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(c *container.Container) *UploadHandler {
	return &UploadHandler{
		components: c.Components,
		bulk:       c.BulkService,
		recorder:   c.RecorderService,
	}
}

// SignedURL dispatches on the event type: bulk token requests from CI jobs,
// and upload-completed callbacks from the storage backend
// POST /artifact/upload/signed-url
func (h *UploadHandler) SignedURL(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperr.Validation("failed to read request body")
	}

	var envelope sdk.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return apperr.Validation("request body must be a JSON object")
	}

	switch envelope.Type {
	case sdk.EventBulk:
		var req sdk.BulkRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return apperr.Validation("invalid bulk request: " + err.Error())
		}

		resp, err := h.bulk.Handle(ctx, &req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)

	case sdk.EventUploadCompleted:
		if err := h.recorder.VerifyCallback(body, c.Request().Header.Get(service.CallbackSignatureHeader)); err != nil {
			logger.FromContext(ctx, h.components.Logger).Warn("rejected storage callback", "error", err)
			return err
		}

		var event sdk.UploadCompletedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return apperr.Validation("invalid upload-completed event: " + err.Error())
		}

		rows, err := h.recorder.Record(ctx, models.CompletionEvent{
			Pathname:     event.Payload.Blob.Pathname,
			URL:          event.Payload.Blob.URL,
			TokenPayload: event.Payload.TokenPayload,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"pathname": event.Payload.Blob.Pathname,
			"recorded": len(rows),
		})

	default:
		return apperr.Validation("unknown event type", apperr.FieldError{
			Field:   "type",
			Message: fmt.Sprintf("must be %q or %q", sdk.EventBulk, sdk.EventUploadCompleted),
		})
	}
}

// Complete records an upload confirmed by the uploading client
// POST /artifact/upload/complete
func (h *UploadHandler) Complete(c echo.Context) error {
	ctx := c.Request().Context()

	var req sdk.CompleteRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.ClientToken == "" {
		return apperr.Validation("clientToken is required", apperr.FieldError{Field: "clientToken", Message: "required"})
	}

	resp, err := h.recorder.Complete(ctx, req.ClientToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
