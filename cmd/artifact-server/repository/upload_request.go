package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/common/db"
)

// UploadRequestRepository handles database operations for repos and upload requests
type UploadRequestRepository struct {
	db db.TxBeginner
}

// NewUploadRequestRepository creates a new upload request repository
func NewUploadRequestRepository(db db.TxBeginner) *UploadRequestRepository {
	return &UploadRequestRepository{db: db}
}

const lockScopeQuery = `select pg_advisory_xact_lock(hashtextextended($1, 0))`

// trackQuery upserts the repo and inserts the upload request only while the
// scope is below the ceiling. No row comes back when the ceiling is reached.
const trackQuery = `
	with repo as (
		insert into repos (owner, name, html_url)
		values ($1, $2, $3)
		on conflict (html_url) do update
			set updated_at = current_timestamp,
				owner = excluded.owner,
				name = excluded.name
		returning id
	)
	insert into upload_requests (repo_id, ref, sha, github_run_id, github_run_attempt, github_job_id)
	select repo.id, $4, $5, $6, $7, $8
	from repo
	where (
		select count(*)
		from upload_requests ur
		where ur.repo_id = repo.id
			and ur.github_run_id = $6
			and ur.github_run_attempt = $7
			and ur.github_job_id = $8
	) < $9
	returning id, repo_id, ref, sha, github_run_id, github_run_attempt, github_job_id, created_at, updated_at
`

// Track creates an upload request for the scope, creating or touching its repo.
// The statement runs under a transaction-scoped advisory lock on the scope so
// concurrent callers cannot both pass the ceiling check.
func (r *UploadRequestRepository) Track(ctx context.Context, in models.TrackInput, ceiling int) (*models.UploadRequest, error) {
	var req *models.UploadRequest

	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx db.Querier) error {
		if _, err := tx.Exec(ctx, lockScopeQuery, in.LockKey()); err != nil {
			return fmt.Errorf("failed to lock upload scope: %w", err)
		}

		row := tx.QueryRow(ctx, trackQuery,
			in.Owner,
			in.Repo,
			in.HTMLURL,
			in.Ref,
			in.SHA,
			in.RunID,
			in.RunAttempt,
			in.Job,
			int64(ceiling),
		)

		ur := &models.UploadRequest{}
		err := row.Scan(
			&ur.ID,
			&ur.RepoID,
			&ur.Ref,
			&ur.SHA,
			&ur.GitHubRunID,
			&ur.GitHubRunAttempt,
			&ur.GitHubJobID,
			&ur.CreatedAt,
			&ur.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create upload request: %w", err)
		}
		req = ur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req == nil {
		return nil, ErrCeilingReached
	}
	return req, nil
}

// CountForScope returns how many upload requests exist for the scope
func (r *UploadRequestRepository) CountForScope(ctx context.Context, scope models.Scope) (int64, error) {
	query := `
		select count(*)
		from upload_requests ur
		join repos r on r.id = ur.repo_id
		where r.html_url = $1
			and ur.github_run_id = $2
			and ur.github_run_attempt = $3
			and ur.github_job_id = $4
	`

	var count int64
	err := r.db.QueryRow(ctx, query, scope.HTMLURL, scope.RunID, scope.RunAttempt, scope.Job).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count upload requests: %w", err)
	}
	return count, nil
}

// ListRecent returns the newest upload requests of a repository with their file counts
func (r *UploadRequestRepository) ListRecent(ctx context.Context, owner, repo string, limit int) ([]*models.UploadRequestSummary, error) {
	query := `
		select
			ur.id, ur.repo_id, ur.ref, ur.sha, ur.github_run_id, ur.github_run_attempt,
			ur.github_job_id, ur.created_at, ur.updated_at,
			r.owner, r.name, count(u.id)
		from upload_requests ur
		join repos r on r.id = ur.repo_id
		left join uploads u on u.upload_request_id = ur.id
		where r.owner = $1 and r.name = $2
		group by ur.id, r.owner, r.name
		order by ur.created_at desc
		limit $3
	`

	rows, err := r.db.Query(ctx, query, owner, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload requests: %w", err)
	}
	defer rows.Close()

	var out []*models.UploadRequestSummary
	for rows.Next() {
		s := &models.UploadRequestSummary{}
		if err := rows.Scan(
			&s.ID,
			&s.RepoID,
			&s.Ref,
			&s.SHA,
			&s.GitHubRunID,
			&s.GitHubRunAttempt,
			&s.GitHubJobID,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.Owner,
			&s.RepoName,
			&s.FileCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload request: %w", err)
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload requests: %w", err)
	}
	return out, nil
}
