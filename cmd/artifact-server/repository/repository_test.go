package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
)

var (
	uploadRequestCols = []string{"id", "repo_id", "ref", "sha", "github_run_id", "github_run_attempt", "github_job_id", "created_at", "updated_at"}
	uploadCols        = []string{"id", "pathname", "mime_type", "blob_url", "upload_request_id", "created_at", "updated_at"}
)

func trackInput() models.TrackInput {
	return models.TrackInput{
		Scope: models.Scope{
			Owner:      "mmkal",
			Repo:       "artifact.ci",
			HTMLURL:    "https://github.com/mmkal/artifact.ci",
			RunID:      123,
			RunAttempt: 1,
			Job:        "test",
		},
		Ref: "refs/heads/main",
		SHA: "abc123",
	}
}

func TestTrack_CreatesUnderCeiling(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	in := trackInput()
	id, repoID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(in.LockKey()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("insert into upload_requests").
		WithArgs("mmkal", "artifact.ci", "https://github.com/mmkal/artifact.ci", "refs/heads/main", "abc123", int64(123), 1, "test", int64(1)).
		WillReturnRows(pgxmock.NewRows(uploadRequestCols).
			AddRow(id, repoID, "refs/heads/main", "abc123", int64(123), 1, "test", now, now))
	mock.ExpectCommit()

	repo := NewUploadRequestRepository(mock)
	req, err := repo.Track(context.Background(), in, 1)
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)
	assert.Equal(t, repoID, req.RepoID)
	assert.Equal(t, int64(123), req.GitHubRunID)
	assert.Equal(t, "test", req.GitHubJobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrack_CeilingReached(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	in := trackInput()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(in.LockKey()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("insert into upload_requests").
		WillReturnRows(pgxmock.NewRows(uploadRequestCols))
	mock.ExpectCommit()

	repo := NewUploadRequestRepository(mock)
	_, err = repo.Track(context.Background(), in, 1)
	assert.ErrorIs(t, err, ErrCeilingReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrack_RollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	repo := NewUploadRequestRepository(mock)
	_, err = repo.Track(context.Background(), trackInput(), 1)
	assert.ErrorContains(t, err, "failed to lock upload scope")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountForScope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	in := trackInput()
	mock.ExpectQuery("select count").
		WithArgs(in.HTMLURL, in.RunID, in.RunAttempt, in.Job).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	count, err := NewUploadRequestRepository(mock).CountForScope(context.Background(), in.Scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	cols := append(append([]string{}, uploadRequestCols...), "owner", "name", "count")
	mock.ExpectQuery("from upload_requests ur").
		WithArgs("mmkal", "artifact.ci", 20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), uuid.New(), "refs/heads/main", "abc", int64(2), 1, "test", now, now, "mmkal", "artifact.ci", int64(4)).
			AddRow(uuid.New(), uuid.New(), "refs/heads/main", "def", int64(1), 1, "test", now, now, "mmkal", "artifact.ci", int64(2)))

	got, err := NewUploadRequestRepository(mock).ListRecent(context.Background(), "mmkal", "artifact.ci", 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "abc", got[0].SHA)
	assert.Equal(t, int64(4), got[0].FileCount)
	assert.Equal(t, "artifact.ci", got[1].RepoName)
}

func TestInsertAliases(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reqID := uuid.New()
	now := time.Now()
	pathnames := []string{"o/r/1/1/test/site/index.html", "o/r/1/1/test/site"}
	blobURL := "https://blobs.example/o/r/1/1/test/site/index.html"

	mock.ExpectQuery("insert into uploads").
		WithArgs(pathnames, "text/html", blobURL, reqID).
		WillReturnRows(pgxmock.NewRows(uploadCols).
			AddRow(uuid.New(), pathnames[0], "text/html", blobURL, reqID, now, now).
			AddRow(uuid.New(), pathnames[1], "text/html", blobURL, reqID, now, now))

	uploads, err := NewUploadRepository(mock).InsertAliases(context.Background(), reqID, blobURL, "text/html", pathnames)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, pathnames[1], uploads[1].Pathname)
	assert.Equal(t, blobURL, uploads[1].BlobURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAliases_ReplayInsertsNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("on conflict \\(pathname, upload_request_id\\) do nothing").
		WillReturnRows(pgxmock.NewRows(uploadCols))

	uploads, err := NewUploadRepository(mock).InsertAliases(context.Background(), uuid.New(), "u", "text/plain", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestInsertAliases_UnknownRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("insert into uploads").
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})

	_, err = NewUploadRepository(mock).InsertAliases(context.Background(), uuid.New(), "u", "text/plain", []string{"a"})
	assert.ErrorIs(t, err, ErrUnknownUploadRequest)
}

func TestLatestByPathname(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("from uploads").
		WithArgs("o/r/1/1/test/site").
		WillReturnRows(pgxmock.NewRows(uploadCols).
			AddRow(uuid.New(), "o/r/1/1/test/site", "text/html", "https://blobs.example/x", uuid.New(), now, now))
	mock.ExpectQuery("from uploads").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(uploadCols))

	repo := NewUploadRepository(mock)
	u, err := repo.LatestByPathname(context.Background(), "o/r/1/1/test/site")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example/x", u.BlobURL)

	_, err = repo.LatestByPathname(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveView(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("concat_ws").
		WithArgs("mmkal", "artifact.ci", "branch", "main", "site/index.html").
		WillReturnRows(pgxmock.NewRows(uploadCols).
			AddRow(uuid.New(), "mmkal/artifact.ci/1/1/test/site/index.html", "text/html", "https://blobs.example/y", uuid.New(), now, now))
	mock.ExpectQuery("concat_ws").
		WithArgs("mmkal", "artifact.ci", "run", "999", "").
		WillReturnRows(pgxmock.NewRows(uploadCols))

	repo := NewUploadRepository(mock)
	u, err := repo.ResolveView(context.Background(), ViewQuery{
		Owner:      "mmkal",
		Repo:       "artifact.ci",
		AliasType:  models.AliasBranch,
		Identifier: "main",
		Path:       "site/index.html",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example/y", u.BlobURL)

	_, err = repo.ResolveView(context.Background(), ViewQuery{
		Owner:      "mmkal",
		Repo:       "artifact.ci",
		AliasType:  models.AliasRun,
		Identifier: "999",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
