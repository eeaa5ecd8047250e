package repository

import "errors"

var (
	// ErrCeilingReached means the scope already holds the maximum number of upload requests
	ErrCeilingReached = errors.New("upload request ceiling reached")
	// ErrUnknownUploadRequest means an upload referenced a request that does not exist
	ErrUnknownUploadRequest = errors.New("unknown upload request")
	// ErrNotFound is returned by lookups with no matching row
	ErrNotFound = errors.New("not found")
)
