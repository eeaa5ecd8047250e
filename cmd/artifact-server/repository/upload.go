package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/common/db"
)

// UploadRepository handles database operations for uploads
type UploadRepository struct {
	db db.Querier
}

// NewUploadRepository creates a new upload repository
func NewUploadRepository(db db.Querier) *UploadRepository {
	return &UploadRepository{db: db}
}

const uploadColumns = `id, pathname, mime_type, blob_url, upload_request_id, created_at, updated_at`

// InsertAliases stores one row per alias pathname in a single statement.
// Rows that already exist for the same request are skipped, so replays
// return only the rows they actually created.
func (r *UploadRepository) InsertAliases(ctx context.Context, uploadRequestID uuid.UUID, blobURL, mimeType string, pathnames []string) ([]*models.Upload, error) {
	query := `
		insert into uploads (pathname, mime_type, blob_url, upload_request_id)
		select pathname, $2, $3, $4
		from unnest($1::text[]) as pathname
		on conflict (pathname, upload_request_id) do nothing
		returning ` + uploadColumns

	rows, err := r.db.Query(ctx, query, pathnames, mimeType, blobURL, uploadRequestID)
	if err != nil {
		return nil, r.insertError(err)
	}

	uploads, err := scanUploads(rows)
	if err != nil {
		return nil, r.insertError(err)
	}
	return uploads, nil
}

func (r *UploadRepository) insertError(err error) error {
	if db.IsPgError(err, db.ForeignKeyViolation) {
		return ErrUnknownUploadRequest
	}
	return fmt.Errorf("failed to insert uploads: %w", err)
}

// LatestByPathname returns the most recent upload stored under pathname
func (r *UploadRepository) LatestByPathname(ctx context.Context, pathname string) (*models.Upload, error) {
	query := `
		select ` + uploadColumns + `
		from uploads
		where pathname = $1
		order by created_at desc
		limit 1
	`

	u, err := scanUpload(r.db.QueryRow(ctx, query, pathname))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return u, nil
}

// ViewQuery locates a file inside the newest artifact matching an identifier
type ViewQuery struct {
	Owner      string
	Repo       string
	AliasType  models.AliasType
	Identifier string
	Path       string
}

// ResolveView finds the newest upload for a run, commit or branch identifier.
// Path is relative to the job directory; empty resolves the directory alias itself.
func (r *UploadRepository) ResolveView(ctx context.Context, q ViewQuery) (*models.Upload, error) {
	query := `
		select u.id, u.pathname, u.mime_type, u.blob_url, u.upload_request_id, u.created_at, u.updated_at
		from uploads u
		join upload_requests ur on ur.id = u.upload_request_id
		join repos r on r.id = ur.repo_id
		where r.owner = $1
			and r.name = $2
			and case $3::text
				when 'run' then ur.github_run_id::text = $4
				when 'commit' then starts_with(ur.sha, $4)
				when 'branch' then ur.ref in ($4, 'refs/heads/' || $4)
				else false
			end
			and u.pathname = concat_ws('/', r.owner, r.name, ur.github_run_id, ur.github_run_attempt, ur.github_job_id, nullif($5::text, ''))
		order by ur.created_at desc, u.created_at desc
		limit 1
	`

	u, err := scanUpload(r.db.QueryRow(ctx, query, q.Owner, q.Repo, string(q.AliasType), q.Identifier, q.Path))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve view: %w", err)
	}
	return u, nil
}

func scanUpload(row pgx.Row) (*models.Upload, error) {
	u := &models.Upload{}
	err := row.Scan(
		&u.ID,
		&u.Pathname,
		&u.MimeType,
		&u.BlobURL,
		&u.UploadRequestID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUploads(rows pgx.Rows) ([]*models.Upload, error) {
	defer rows.Close()

	var out []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
