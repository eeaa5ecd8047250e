package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/cache"
	"github.com/SensibleWeather/artifact.ci/common/clients"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/telemetry"
)

// GitHubService authorizes uploads against the GitHub API using the CI job's token
type GitHubService struct {
	api       GitHubAPI
	cache     cache.Cache
	cacheTTL  time.Duration
	log       *logger.Logger
	telemetry *telemetry.Telemetry
}

// NewGitHubService creates a new GitHub service. c may be nil to disable caching.
func NewGitHubService(api GitHubAPI, c cache.Cache, cacheTTL time.Duration, log *logger.Logger, tel *telemetry.Telemetry) *GitHubService {
	return &GitHubService{
		api:       api,
		cache:     c,
		cacheTTL:  cacheTTL,
		log:       log,
		telemetry: tel,
	}
}

// Repository looks up owner/repo with token. Successful lookups are cached
// per token so a retried bulk request does not hit GitHub again.
func (s *GitHubService) Repository(ctx context.Context, token, owner, repo string) (*clients.GitHubRepository, error) {
	log := logger.FromContext(ctx, s.log)
	key := repoCacheKey(token, owner, repo)

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn("repository cache read failed", "error", err)
		}
		if ok {
			var cached clients.GitHubRepository
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	defer s.telemetry.RecordDuration("github_repository", time.Now())
	found, err := s.api.GetRepository(ctx, token, owner, repo)
	if err != nil {
		return nil, s.mapError(fmt.Sprintf("%s/%s", owner, repo), err)
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(found); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				log.Warn("repository cache write failed", "error", err)
			}
		}
	}
	return found, nil
}

// VerifyJobLive checks that the scope's run attempt still has the job running.
// Jobs match by name or by matrix name ("test (node 20)" for job test). When no
// job name matches, any live job in the attempt is accepted, since job keys and
// display names can differ.
func (s *GitHubService) VerifyJobLive(ctx context.Context, token string, scope models.Scope) error {
	defer s.telemetry.RecordDuration("github_jobs", time.Now())

	jobs, err := s.api.ListJobsForRunAttempt(ctx, token, scope.Owner, scope.Repo, scope.RunID, scope.RunAttempt)
	if err != nil {
		return s.mapError(fmt.Sprintf("run %d attempt %d", scope.RunID, scope.RunAttempt), err)
	}

	matched, anyLive := false, false
	for _, job := range jobs {
		live := job.Status == "queued" || job.Status == "in_progress"
		anyLive = anyLive || live
		if job.Name == scope.Job || strings.HasPrefix(job.Name, scope.Job+" (") {
			if live {
				return nil
			}
			matched = true
		}
	}

	if !matched && anyLive {
		return nil
	}
	return apperr.NotFound(fmt.Sprintf("job %s is not running in run %d attempt %d", scope.Job, scope.RunID, scope.RunAttempt))
}

func (s *GitHubService) mapError(subject string, err error) error {
	switch {
	case errors.Is(err, clients.ErrGitHubNotFound):
		return apperr.NotFound(fmt.Sprintf("GitHub %s not found or not visible to the token", subject)).WithCause(err)
	case errors.Is(err, clients.ErrGitHubRejected):
		return apperr.UpstreamClient("GitHub rejected the request", err)
	default:
		s.telemetry.RecordUpstreamError("github")
		return apperr.UpstreamUnavailable("GitHub is unavailable", err)
	}
}

func repoCacheKey(token, owner, repo string) string {
	sum := sha256.Sum256([]byte(token))
	return "github:repo:" + hex.EncodeToString(sum[:]) + ":" + strings.ToLower(owner+"/"+repo)
}
