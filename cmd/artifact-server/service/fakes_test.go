package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/clients"
	"github.com/SensibleWeather/artifact.ci/common/storage"
)

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, kind, appErr.Kind, appErr.Error())
	return appErr
}

// fakeRequests enforces the ceiling per scope like the real statement does
type fakeRequests struct {
	mu        sync.Mutex
	byScope   map[string]int
	tracked   []models.TrackInput
	created   map[uuid.UUID]bool
	err       error
	countErr  error
	summaries []*models.UploadRequestSummary
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{byScope: map[string]int{}, created: map[uuid.UUID]bool{}}
}

func (f *fakeRequests) Track(ctx context.Context, in models.TrackInput, ceiling int) (*models.UploadRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.tracked = append(f.tracked, in)
	if f.byScope[in.LockKey()] >= ceiling {
		return nil, repository.ErrCeilingReached
	}
	f.byScope[in.LockKey()]++

	req := &models.UploadRequest{
		ID:               uuid.New(),
		RepoID:           uuid.New(),
		Ref:              in.Ref,
		SHA:              in.SHA,
		GitHubRunID:      in.RunID,
		GitHubRunAttempt: in.RunAttempt,
		GitHubJobID:      in.Job,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	f.created[req.ID] = true
	return req, nil
}

func (f *fakeRequests) ListRecent(ctx context.Context, owner, repo string, limit int) ([]*models.UploadRequestSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summaries, nil
}

func (f *fakeRequests) CountForScope(ctx context.Context, scope models.Scope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(f.byScope[scope.LockKey()]), nil
}

type uploadKey struct {
	pathname string
	request  uuid.UUID
}

// fakeUploads mirrors the unique (pathname, upload_request_id) index and the
// upload request foreign key
type fakeUploads struct {
	mu       sync.Mutex
	requests *fakeRequests
	rows     map[uploadKey]*models.Upload
	order    []*models.Upload
	resolved *models.Upload
	lastView repository.ViewQuery
}

func newFakeUploads(requests *fakeRequests) *fakeUploads {
	return &fakeUploads{requests: requests, rows: map[uploadKey]*models.Upload{}}
}

func (f *fakeUploads) InsertAliases(ctx context.Context, uploadRequestID uuid.UUID, blobURL, mimeType string, pathnames []string) ([]*models.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.requests.created[uploadRequestID] {
		return nil, repository.ErrUnknownUploadRequest
	}

	var inserted []*models.Upload
	for _, p := range pathnames {
		key := uploadKey{pathname: p, request: uploadRequestID}
		if _, exists := f.rows[key]; exists {
			continue
		}
		row := &models.Upload{
			ID:              uuid.New(),
			Pathname:        p,
			MimeType:        mimeType,
			BlobURL:         blobURL,
			UploadRequestID: uploadRequestID,
			CreatedAt:       time.Now(),
		}
		f.rows[key] = row
		f.order = append(f.order, row)
		inserted = append(inserted, row)
	}
	return inserted, nil
}

func (f *fakeUploads) LatestByPathname(ctx context.Context, pathname string) (*models.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.order) - 1; i >= 0; i-- {
		if f.order[i].Pathname == pathname {
			return f.order[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUploads) ResolveView(ctx context.Context, q repository.ViewQuery) (*models.Upload, error) {
	f.lastView = q
	if f.resolved == nil {
		return nil, repository.ErrNotFound
	}
	return f.resolved, nil
}

type fakeObjects struct {
	presignErr error
	failOn     string
	stat       *storage.ObjectInfo
	statErr    error
	presigned  atomic.Int32
}

func (f *fakeObjects) PresignUpload(ctx context.Context, pathname, contentType string, ttl time.Duration) (*storage.PresignedUpload, error) {
	if f.presignErr != nil && (f.failOn == "" || f.failOn == pathname) {
		return nil, f.presignErr
	}
	f.presigned.Add(1)
	return &storage.PresignedUpload{
		URL:       "https://bucket.test/" + pathname + "?X-Amz-Signature=sig",
		Method:    http.MethodPut,
		Headers:   http.Header{"Content-Type": []string{contentType}},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeObjects) Stat(ctx context.Context, pathname string) (*storage.ObjectInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	if f.stat != nil {
		return f.stat, nil
	}
	return &storage.ObjectInfo{Pathname: pathname, URL: "https://bucket.test/" + pathname}, nil
}

type fakeGitHub struct {
	repo      *clients.GitHubRepository
	repoErr   error
	jobs      []clients.GitHubJob
	jobsErr   error
	repoCalls atomic.Int32
	jobCalls  atomic.Int32
}

func newFakeGitHub() *fakeGitHub {
	repo := &clients.GitHubRepository{
		ID:       1,
		Name:     "artifact.ci",
		FullName: "mmkal/artifact.ci",
		HTMLURL:  "https://github.com/mmkal/artifact.ci",
	}
	repo.Owner.Login = "mmkal"
	return &fakeGitHub{
		repo: repo,
		jobs: []clients.GitHubJob{{ID: 7, Name: "test", Status: "in_progress"}},
	}
}

func (f *fakeGitHub) GetRepository(ctx context.Context, token, owner, repo string) (*clients.GitHubRepository, error) {
	f.repoCalls.Add(1)
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return f.repo, nil
}

func (f *fakeGitHub) ListJobsForRunAttempt(ctx context.Context, token, owner, repo string, runID int64, attempt int) ([]clients.GitHubJob, error) {
	f.jobCalls.Add(1)
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	return f.jobs, nil
}

var errBoom = errors.New("boom")
