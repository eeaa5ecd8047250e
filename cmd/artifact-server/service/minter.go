package service

import (
	"context"
	"time"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/contenttype"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/storage"
	"github.com/SensibleWeather/artifact.ci/common/telemetry"
)

// MintInput describes one file to issue an upload token for
type MintInput struct {
	Pathname string
	Payload  models.TokenPayload
}

// MintedToken is a scoped client token plus the presigned request it authorizes
type MintedToken struct {
	Pathname      string
	ContentType   string
	ClientToken   string
	UploadURL     string
	UploadHeaders map[string]string
	ExpiresAt     time.Time
}

// MinterService issues single-file upload tokens
type MinterService struct {
	signer          *storage.TokenSigner
	store           ObjectStore
	resolver        *contenttype.Resolver
	ttl             time.Duration
	addRandomSuffix bool
	log             *logger.Logger
	telemetry       *telemetry.Telemetry
}

// MinterServiceOpts contains options for creating a MinterService
type MinterServiceOpts struct {
	Signer          *storage.TokenSigner
	Store           ObjectStore
	Resolver        *contenttype.Resolver
	TTL             time.Duration
	AddRandomSuffix bool
	Logger          *logger.Logger
	Telemetry       *telemetry.Telemetry
}

// NewMinterService creates a new minter service
func NewMinterService(opts *MinterServiceOpts) *MinterService {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MinterService{
		signer:          opts.Signer,
		store:           opts.Store,
		resolver:        opts.Resolver,
		ttl:             ttl,
		addRandomSuffix: opts.AddRandomSuffix,
		log:             opts.Logger,
		telemetry:       opts.Telemetry,
	}
}

// Mint issues a token valid for exactly one pathname and the content type
// resolved from its extension
func (s *MinterService) Mint(ctx context.Context, in MintInput) (*MintedToken, error) {
	payload, err := models.EncodeTokenPayload(in.Payload)
	if err != nil {
		return nil, apperr.Validation("invalid token payload", apperr.FieldError{
			Field:   "tokenPayload",
			Message: err.Error(),
		})
	}

	contentType := s.resolver.Resolve(in.Pathname)
	if err := s.resolver.Check(ctx, in.Pathname, contentType); err != nil {
		return nil, err
	}

	pathname := in.Pathname
	if s.addRandomSuffix {
		if pathname, err = storage.WithRandomSuffix(pathname); err != nil {
			return nil, err
		}
	}

	token, expiresAt, err := s.signer.Sign(pathname, contentType, payload, s.addRandomSuffix, s.ttl)
	if err != nil {
		return nil, apperr.Validation(err.Error(), apperr.FieldError{Field: "contentType", Message: err.Error()})
	}

	upload, err := s.store.PresignUpload(ctx, pathname, contentType, s.ttl)
	if err != nil {
		s.telemetry.RecordUpstreamError("storage")
		return nil, apperr.UpstreamUnavailable("object storage unavailable", err)
	}

	headers := make(map[string]string, len(upload.Headers))
	for name := range upload.Headers {
		headers[name] = upload.Headers.Get(name)
	}

	s.telemetry.RecordTokensMinted(1)
	logger.FromContext(ctx, s.log).Debug("upload token minted",
		"pathname", pathname,
		"content_type", contentType,
		"upload_request_id", in.Payload.UploadRequestID,
	)

	return &MintedToken{
		Pathname:      pathname,
		ContentType:   contentType,
		ClientToken:   token,
		UploadURL:     upload.URL,
		UploadHeaders: headers,
		ExpiresAt:     expiresAt,
	}, nil
}
