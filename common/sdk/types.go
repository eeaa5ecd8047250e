package sdk

import (
	"strings"
	"time"
)

// Event types accepted on the signed-url endpoint
const (
	EventBulk            = "bulk"
	EventUploadCompleted = "blob.upload-completed"
)

// Envelope is decoded first to dispatch on the event type
type Envelope struct {
	Type string `json:"type"`
}

// BulkRequest asks for upload tokens for every file of one artifact
type BulkRequest struct {
	Type string `json:"type"`

	// Files to upload, relative to the job's artifact root
	Files []BulkFile `json:"files"`

	// Where the storage backend reports completions; optional
	CallbackURL string `json:"callbackUrl,omitempty"`

	ClientPayload ClientPayload `json:"clientPayload"`

	// Preferred entrypoints as local paths; filtered to what was uploaded
	Entrypoints []string `json:"entrypoints,omitempty"`
}

// BulkFile is one file in a bulk request. ContentType is optional and, when
// set, must agree with the type the server resolves from the extension.
type BulkFile struct {
	LocalPath   string `json:"localPath,omitempty"`
	Pathname    string `json:"pathname,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Multipart   bool   `json:"multipart"`
}

// Path returns the file's path inside the artifact
func (f BulkFile) Path() string {
	if f.LocalPath != "" {
		return f.LocalPath
	}
	return f.Pathname
}

// ClientPayload carries the CI job's credentials and identity
type ClientPayload struct {
	GitHubToken string     `json:"githubToken"`
	Commit      Commit     `json:"commit"`
	Context     RunContext `json:"context"`
}

// Commit identifies the commit being built
type Commit struct {
	Ref          string `json:"ref"`
	SHA          string `json:"sha"`
	ActionsRunID string `json:"actions_run_id"`
}

// RunContext mirrors the GitHub Actions context of the uploading job
type RunContext struct {
	// owner/repo
	Repository   string `json:"repository"`
	Ref          string `json:"ref"`
	SHA          string `json:"sha"`
	RunID        int64  `json:"runId"`
	RunAttempt   int    `json:"runAttempt"`
	Job          string `json:"job"`
	GitHubOrigin string `json:"githubOrigin"`
}

// OwnerRepo splits Repository into owner and name
func (c RunContext) OwnerRepo() (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(c.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}

// BulkResponse lists one token per file and the canonical entrypoints
type BulkResponse struct {
	Results     []BulkResult `json:"results"`
	Entrypoints []string     `json:"entrypoints"`
}

// BulkResult is the upload credential for one file
type BulkResult struct {
	Pathname      string            `json:"pathname"`
	ClientToken   string            `json:"clientToken"`
	UploadURL     string            `json:"uploadUrl"`
	UploadHeaders map[string]string `json:"uploadHeaders,omitempty"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	ViewURL       string            `json:"viewUrl,omitempty"`
	ContentType   string            `json:"contentType,omitempty"`
	LocalPath     string            `json:"localPath,omitempty"`
}

// UploadCompletedEvent is posted by the storage backend after a PUT succeeds
type UploadCompletedEvent struct {
	Type    string                 `json:"type"`
	Payload UploadCompletedPayload `json:"payload"`
}

// UploadCompletedPayload names the stored blob and echoes the token payload
type UploadCompletedPayload struct {
	Blob         Blob   `json:"blob"`
	TokenPayload string `json:"tokenPayload"`
}

// Blob is a stored object
type Blob struct {
	Pathname string `json:"pathname"`
	URL      string `json:"url"`
}

// CompleteRequest confirms an upload from the client side
type CompleteRequest struct {
	ClientToken string `json:"clientToken"`
}

// CompleteResponse reports the alias rows recorded for a completed upload
type CompleteResponse struct {
	Pathname string   `json:"pathname"`
	Aliases  []string `json:"aliases"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Message string `json:"message"`
	Error   any    `json:"error,omitempty"`
}
