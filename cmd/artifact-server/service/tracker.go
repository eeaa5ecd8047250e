package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/telemetry"
)

// TrackerService creates upload requests, at most ceiling per run scope
type TrackerService struct {
	requests  UploadRequestStore
	ceiling   int
	log       *logger.Logger
	telemetry *telemetry.Telemetry
}

// NewTrackerService creates a new tracker service
func NewTrackerService(requests UploadRequestStore, ceiling int, log *logger.Logger, tel *telemetry.Telemetry) *TrackerService {
	if ceiling < 1 {
		ceiling = 1
	}
	return &TrackerService{
		requests:  requests,
		ceiling:   ceiling,
		log:       log,
		telemetry: tel,
	}
}

// Track records a new upload request for the scope of in. Once the scope
// holds ceiling requests it fails with a rate limited error.
func (s *TrackerService) Track(ctx context.Context, in models.TrackInput) (*models.UploadRequest, error) {
	defer s.telemetry.RecordDuration("track", time.Now())
	log := logger.FromContext(ctx, s.log)

	req, err := s.requests.Track(ctx, in, s.ceiling)
	if errors.Is(err, repository.ErrCeilingReached) {
		s.telemetry.RecordUploadRequest("rate_limited")
		log.Warn("upload request ceiling reached",
			"repo", in.HTMLURL,
			"run_id", in.RunID,
			"run_attempt", in.RunAttempt,
			"job", in.Job,
			"ceiling", s.ceiling,
		)
		limited := apperr.RateLimited(
			fmt.Sprintf("Upload request ceiling of %d reached for run %d attempt %d job %s", s.ceiling, in.RunID, in.RunAttempt, in.Job),
			s.ceiling,
		)
		count, countErr := s.requests.CountForScope(ctx, in.Scope)
		if countErr != nil {
			log.Warn("failed to count upload requests", "error", countErr)
		} else if detail, ok := limited.Detail.(map[string]any); ok {
			detail["count"] = count
		}
		return nil, limited
	}
	if err != nil {
		s.telemetry.RecordUploadRequest("failed")
		return nil, fmt.Errorf("failed to track upload request: %w", err)
	}

	s.telemetry.RecordUploadRequest("created")
	log.WithUploadRequest(req.ID.String()).Info("upload request created",
		"repo", in.HTMLURL,
		"run_id", in.RunID,
		"run_attempt", in.RunAttempt,
		"job", in.Job,
	)
	return req, nil
}
