package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/common/alias"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/contenttype"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/sdk"
	"github.com/SensibleWeather/artifact.ci/common/storage"
	"github.com/SensibleWeather/artifact.ci/common/telemetry"
)

// Upload sources, used as the metrics label
const (
	SourceCallback = "callback"
	SourceClient   = "client"
)

// CallbackSignatureHeader carries the hex HMAC-SHA256 of a storage callback body
const CallbackSignatureHeader = "x-artifact-signature"

// RecorderService records completed uploads under every alias of their pathname
type RecorderService struct {
	uploads        UploadStore
	store          ObjectStore
	signer         *storage.TokenSigner
	resolver       *contenttype.Resolver
	callbackSecret []byte
	log            *logger.Logger
	telemetry      *telemetry.Telemetry
}

// RecorderServiceOpts contains options for creating a RecorderService
type RecorderServiceOpts struct {
	Uploads        UploadStore
	Store          ObjectStore
	Signer         *storage.TokenSigner
	Resolver       *contenttype.Resolver
	CallbackSecret []byte
	Logger         *logger.Logger
	Telemetry      *telemetry.Telemetry
}

// NewRecorderService creates a new recorder service
func NewRecorderService(opts *RecorderServiceOpts) *RecorderService {
	return &RecorderService{
		uploads:        opts.Uploads,
		store:          opts.Store,
		signer:         opts.Signer,
		resolver:       opts.Resolver,
		callbackSecret: opts.CallbackSecret,
		log:            opts.Logger,
		telemetry:      opts.Telemetry,
	}
}

// Record stores one row per alias of the event's pathname. Replays of the
// same event insert nothing and are not an error.
func (s *RecorderService) Record(ctx context.Context, event models.CompletionEvent) ([]*models.Upload, error) {
	return s.record(ctx, event, SourceCallback)
}

func (s *RecorderService) record(ctx context.Context, event models.CompletionEvent, source string) ([]*models.Upload, error) {
	defer s.telemetry.RecordDuration("record", time.Now())

	payload, err := models.DecodeTokenPayload(event.TokenPayload)
	if err != nil {
		return nil, apperr.Unauthorized("invalid token payload").WithCause(err)
	}
	if event.Pathname == "" || event.URL == "" {
		return nil, apperr.Validation("blob pathname and url are required")
	}

	log := logger.FromContext(ctx, s.log).WithUploadRequest(payload.UploadRequestID.String())
	mimeType := s.resolver.Resolve(event.Pathname)
	aliases := alias.Derive(event.Pathname)

	rows, err := s.uploads.InsertAliases(ctx, payload.UploadRequestID, event.URL, mimeType, aliases)
	if errors.Is(err, repository.ErrUnknownUploadRequest) {
		log.Warn("completion for unknown upload request", "pathname", event.Pathname)
		return nil, apperr.Unauthorized("unknown upload request").WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record upload %s: %w", event.Pathname, err)
	}

	s.telemetry.RecordUploads(source, len(rows))
	log.Info("upload recorded",
		"pathname", event.Pathname,
		"mime", mimeType,
		"aliases", len(aliases),
		"inserted", len(rows),
		"source", source,
	)
	return rows, nil
}

// Complete records an upload confirmed by the client holding its token.
// The blob must already exist in storage.
func (s *RecorderService) Complete(ctx context.Context, clientToken string) (*sdk.CompleteResponse, error) {
	claims, err := s.signer.Verify(clientToken)
	if err != nil {
		return nil, apperr.Unauthorized("invalid client token").WithCause(err)
	}

	pathname := claims.Pathname()
	info, err := s.store.Stat(ctx, pathname)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("blob %s has not been uploaded", pathname))
	}
	if err != nil {
		s.telemetry.RecordUpstreamError("storage")
		return nil, apperr.UpstreamUnavailable("object storage unavailable", err)
	}

	if _, err := s.record(ctx, models.CompletionEvent{
		Pathname:     pathname,
		URL:          info.URL,
		TokenPayload: claims.TokenPayload,
	}, SourceClient); err != nil {
		return nil, err
	}

	return &sdk.CompleteResponse{
		Pathname: pathname,
		Aliases:  alias.Derive(pathname),
	}, nil
}

// VerifyCallback checks the signature header of a storage callback body
func (s *RecorderService) VerifyCallback(body []byte, signature string) error {
	if len(s.callbackSecret) == 0 {
		return apperr.Unauthorized("storage callbacks are not configured")
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return apperr.Unauthorized("missing or malformed callback signature")
	}
	if !hmac.Equal(got, sign(s.callbackSecret, body)) {
		return apperr.Unauthorized("callback signature mismatch")
	}
	return nil
}

// CallbackSignature returns the header value a storage backend sends with body
func CallbackSignature(secret, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
