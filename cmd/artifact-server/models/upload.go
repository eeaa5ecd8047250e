package models

import (
	"time"

	"github.com/google/uuid"
)

// Upload records one alias pathname of a completed file transfer.
// Maps to: uploads table
type Upload struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Pathname        string    `db:"pathname" json:"pathname"`
	MimeType        string    `db:"mime_type" json:"mime_type"`
	BlobURL         string    `db:"blob_url" json:"blob_url"`
	UploadRequestID uuid.UUID `db:"upload_request_id" json:"upload_request_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CompletionEvent reports that a blob finished uploading
type CompletionEvent struct {
	Pathname     string
	URL          string
	TokenPayload string
}

// AliasType selects how an artifact is looked up in the browser
type AliasType string

const (
	AliasRun    AliasType = "run"
	AliasCommit AliasType = "commit"
	AliasBranch AliasType = "branch"
)

// Priority orders identifiers when several point at the same artifact
func (a AliasType) Priority() int {
	switch a {
	case AliasRun:
		return 0
	case AliasCommit:
		return 1
	case AliasBranch:
		return 2
	default:
		return 3
	}
}

// Valid reports whether a is a known alias type
func (a AliasType) Valid() bool {
	return a == AliasRun || a == AliasCommit || a == AliasBranch
}
