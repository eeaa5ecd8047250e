package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/common/clients"
	"github.com/SensibleWeather/artifact.ci/common/storage"
)

// UploadRequestStore persists upload requests
type UploadRequestStore interface {
	Track(ctx context.Context, in models.TrackInput, ceiling int) (*models.UploadRequest, error)
	ListRecent(ctx context.Context, owner, repo string, limit int) ([]*models.UploadRequestSummary, error)
	CountForScope(ctx context.Context, scope models.Scope) (int64, error)
}

// UploadStore persists and resolves alias rows
type UploadStore interface {
	InsertAliases(ctx context.Context, uploadRequestID uuid.UUID, blobURL, mimeType string, pathnames []string) ([]*models.Upload, error)
	LatestByPathname(ctx context.Context, pathname string) (*models.Upload, error)
	ResolveView(ctx context.Context, q repository.ViewQuery) (*models.Upload, error)
}

// ObjectStore issues presigned uploads and inspects stored blobs
type ObjectStore interface {
	PresignUpload(ctx context.Context, pathname, contentType string, ttl time.Duration) (*storage.PresignedUpload, error)
	Stat(ctx context.Context, pathname string) (*storage.ObjectInfo, error)
}

// GitHubAPI is the subset of the GitHub REST API the service calls
type GitHubAPI interface {
	GetRepository(ctx context.Context, token, owner, repo string) (*clients.GitHubRepository, error)
	ListJobsForRunAttempt(ctx context.Context, token, owner, repo string, runID int64, attempt int) ([]clients.GitHubJob, error)
}

var (
	_ UploadRequestStore = (*repository.UploadRequestRepository)(nil)
	_ UploadStore        = (*repository.UploadRepository)(nil)
	_ ObjectStore        = (*storage.S3Store)(nil)
	_ GitHubAPI          = (*clients.GitHubClient)(nil)
)
