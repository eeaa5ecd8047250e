package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ViewService resolves browser paths to stored blobs
type ViewService struct {
	uploads    UploadStore
	requests   UploadRequestStore
	viewOrigin string
}

// NewViewService creates a new view service
func NewViewService(uploads UploadStore, requests UploadRequestStore, viewOrigin string) *ViewService {
	return &ViewService{
		uploads:    uploads,
		requests:   requests,
		viewOrigin: strings.TrimRight(viewOrigin, "/"),
	}
}

// Blob returns the newest upload recorded under pathname
func (s *ViewService) Blob(ctx context.Context, pathname string) (*models.Upload, error) {
	pathname = strings.Trim(pathname, "/")
	if pathname == "" {
		return nil, apperr.NotFound("artifact not found")
	}

	upload, err := s.uploads.LatestByPathname(ctx, pathname)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("artifact %s not found", pathname))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", pathname, err)
	}
	return upload, nil
}

// Resolve finds the newest upload matching a run, commit or branch alias
func (s *ViewService) Resolve(ctx context.Context, q repository.ViewQuery) (*models.Upload, error) {
	if !q.AliasType.Valid() {
		return nil, apperr.Validation("invalid alias type", apperr.FieldError{
			Field:   "aliasType",
			Message: "must be one of run, commit, branch",
		})
	}
	if q.Identifier == "" {
		return nil, apperr.Validation("identifier is required")
	}
	if q.AliasType == models.AliasRun {
		if _, err := strconv.ParseInt(q.Identifier, 10, 64); err != nil {
			return nil, apperr.Validation("run identifier must be numeric")
		}
	}
	q.Path = strings.Trim(q.Path, "/")

	upload, err := s.uploads.ResolveView(ctx, q)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("no %s %s artifact found for %s/%s", q.AliasType, q.Identifier, q.Owner, q.Repo))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve view: %w", err)
	}
	return upload, nil
}

// Identifier is one way to address an upload request in the browser
type Identifier struct {
	Type  models.AliasType `json:"type"`
	Value string           `json:"value"`
	URL   string           `json:"url"`
}

// ViewEntry summarizes one upload request of a repository
type ViewEntry struct {
	UploadRequestID string       `json:"uploadRequestId"`
	Job             string       `json:"job"`
	RunAttempt      int          `json:"runAttempt"`
	FileCount       int64        `json:"fileCount"`
	CreatedAt       time.Time    `json:"createdAt"`
	Identifiers     []Identifier `json:"identifiers"`
}

// List returns recent upload requests for owner/repo, newest first
func (s *ViewService) List(ctx context.Context, owner, repo string, limit int) ([]ViewEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	summaries, err := s.requests.ListRecent(ctx, owner, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads for %s/%s: %w", owner, repo, err)
	}

	entries := make([]ViewEntry, 0, len(summaries))
	for _, sum := range summaries {
		entries = append(entries, ViewEntry{
			UploadRequestID: sum.ID.String(),
			Job:             sum.GitHubJobID,
			RunAttempt:      sum.GitHubRunAttempt,
			FileCount:       sum.FileCount,
			CreatedAt:       sum.CreatedAt,
			Identifiers:     s.identifiers(sum),
		})
	}
	return entries, nil
}

// identifiers are ordered run, commit, branch
func (s *ViewService) identifiers(sum *models.UploadRequestSummary) []Identifier {
	ids := []Identifier{
		{Type: models.AliasRun, Value: strconv.FormatInt(sum.GitHubRunID, 10)},
		{Type: models.AliasCommit, Value: sum.SHA},
	}
	if branch, ok := strings.CutPrefix(sum.Ref, "refs/heads/"); ok && branch != "" {
		ids = append(ids, Identifier{Type: models.AliasBranch, Value: branch})
	} else if sum.Ref != "" && !strings.HasPrefix(sum.Ref, "refs/") {
		ids = append(ids, Identifier{Type: models.AliasBranch, Value: sum.Ref})
	}

	sort.SliceStable(ids, func(i, j int) bool {
		return ids[i].Type.Priority() < ids[j].Type.Priority()
	})
	for i := range ids {
		ids[i].URL = fmt.Sprintf("%s/artifact/view/%s/%s/%s/%s/",
			s.viewOrigin,
			url.PathEscape(sum.Owner),
			url.PathEscape(sum.RepoName),
			ids[i].Type,
			url.PathEscape(ids[i].Value),
		)
	}
	return ids
}
