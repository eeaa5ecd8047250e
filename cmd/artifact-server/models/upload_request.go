package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UploadRequest is one CI job invocation's upload session.
// Maps to: upload_requests table
type UploadRequest struct {
	ID               uuid.UUID `db:"id" json:"id"`
	RepoID           uuid.UUID `db:"repo_id" json:"repo_id"`
	Ref              string    `db:"ref" json:"ref"`
	SHA              string    `db:"sha" json:"sha"`
	GitHubRunID      int64     `db:"github_run_id" json:"github_run_id"`
	GitHubRunAttempt int       `db:"github_run_attempt" json:"github_run_attempt"`
	GitHubJobID      string    `db:"github_job_id" json:"github_job_id"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Scope is the (repository, run, attempt, job) tuple the request ceiling applies to
type Scope struct {
	Owner      string
	Repo       string
	HTMLURL    string
	RunID      int64
	RunAttempt int
	Job        string
}

// LockKey identifies the scope for advisory locking
func (s Scope) LockKey() string {
	return fmt.Sprintf("%s|%d|%d|%s", s.HTMLURL, s.RunID, s.RunAttempt, s.Job)
}

// PathPrefix is the storage prefix every file of the scope is uploaded under
func (s Scope) PathPrefix() string {
	return s.Owner + "/" + s.Repo + "/" + strconv.FormatInt(s.RunID, 10) + "/" + strconv.Itoa(s.RunAttempt) + "/" + s.Job
}

// TrackInput carries everything needed to create an upload request
type TrackInput struct {
	Scope
	Ref string
	SHA string
}

// UploadRequestSummary is a recent upload request with its repository
type UploadRequestSummary struct {
	UploadRequest
	Owner     string `json:"owner"`
	RepoName  string `json:"repo"`
	FileCount int64  `json:"file_count"`
}
