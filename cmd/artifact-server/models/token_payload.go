package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// TokenPayload is embedded in every upload token and links a completed
// upload back to the request that minted it
type TokenPayload struct {
	UploadRequestID uuid.UUID `json:"uploadRequestId"`
	Ref             string    `json:"ref"`
	SHA             string    `json:"sha"`
	RunID           int64     `json:"runId"`
}

// Validate checks the payload is complete
func (p TokenPayload) Validate() error {
	var errs []error
	if p.UploadRequestID == uuid.Nil {
		errs = append(errs, errors.New("uploadRequestId is required"))
	}
	if p.Ref == "" {
		errs = append(errs, errors.New("ref is required"))
	}
	if p.SHA == "" {
		errs = append(errs, errors.New("sha is required"))
	}
	if p.RunID <= 0 {
		errs = append(errs, errors.New("runId must be positive"))
	}
	return errors.Join(errs...)
}

// EncodeTokenPayload serializes a validated payload
func EncodeTokenPayload(p TokenPayload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid token payload: %w", err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}
	return string(b), nil
}

// DecodeTokenPayload parses and validates a serialized payload, rejecting
// unknown fields and trailing data
func DecodeTokenPayload(raw string) (TokenPayload, error) {
	var p TokenPayload

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return TokenPayload{}, fmt.Errorf("failed to decode token payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return TokenPayload{}, errors.New("failed to decode token payload: trailing data")
	}

	if err := p.Validate(); err != nil {
		return TokenPayload{}, fmt.Errorf("invalid token payload: %w", err)
	}
	return p, nil
}
