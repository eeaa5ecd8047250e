// Package apperr defines the structured error carried from services to the
// HTTP boundary, where it is rendered once as {message, error?}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error
type Kind string

const (
	KindValidation          Kind = "validation"
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamClient      Kind = "upstream_client"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUnexpected          Kind = "unexpected"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindNotFound:            http.StatusNotFound,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUpstreamClient:      http.StatusBadRequest,
	KindUpstreamUnavailable: http.StatusBadGateway,
	KindUnexpected:          http.StatusInternalServerError,
}

// Error is a domain error with an HTTP shape
type Error struct {
	Kind    Kind
	Message string
	// Detail is rendered under "error" in the response body
	Detail any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error kind
func (e *Error) Status() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithCause attaches an underlying error
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// FieldError describes one failed validation rule
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func Validation(message string, fields ...FieldError) *Error {
	e := &Error{Kind: KindValidation, Message: message}
	if len(fields) > 0 {
		e.Detail = map[string]any{"issues": fields}
	}
	return e
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// RateLimited signals the per-scope upload request ceiling was reached
func RateLimited(message string, ceiling int) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Message: message,
		Detail:  map[string]any{"kind": KindRateLimited, "ceiling": ceiling},
	}
}

// UpstreamClient is an upstream rejection attributable to the caller, e.g. a bad token
func UpstreamClient(message string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamClient,
		Message: message,
		Detail:  map[string]any{"kind": KindUpstreamClient},
		Err:     err,
	}
}

// UpstreamUnavailable is an upstream outage or transport failure
func UpstreamUnavailable(message string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: message,
		Detail:  map[string]any{"kind": KindUpstreamUnavailable},
		Err:     err,
	}
}

func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Message: "unexpected error", Err: err}
}

// From extracts an *Error from err's chain, wrapping anything else as unexpected
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Unexpected(err)
}

// IsKind reports whether err carries a domain error of the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
