package security

import (
	"fmt"
	"path"
	"strings"
)

// maxPathLength bounds a single artifact-relative path (S3 keys are limited to 1024 bytes)
const maxPathLength = 512

// PathValidator validates artifact-relative file paths before they become
// part of a storage pathname
type PathValidator struct {
	blockedPatterns []string
	encodedPatterns []string
}

// NewPathValidator creates a new path validator
func NewPathValidator() *PathValidator {
	return &PathValidator{
		blockedPatterns: []string{
			"../",
			"..\\",
			"file://",
			"\\\\.\\pipe\\",
			"\x00",
		},
		encodedPatterns: []string{
			"%2e%2e/",
			"%2e%2e%2f",
			"..%2f",
			"%2e%2e\\",
			"%2e%2e%5c",
			"..%5c",
			"%00",
		},
	}
}

// Validate rejects absolute, drive-qualified, traversing and non-canonical paths
func (v *PathValidator) Validate(localPath string) error {
	if localPath == "" {
		return fmt.Errorf("path is required")
	}

	if len(localPath) > maxPathLength {
		return fmt.Errorf("path exceeds %d bytes", maxPathLength)
	}

	if strings.HasPrefix(localPath, "/") || strings.HasPrefix(localPath, "\\") {
		return fmt.Errorf("path must be relative")
	}

	if len(localPath) >= 2 && localPath[1] == ':' {
		return fmt.Errorf("path must not contain a drive letter")
	}

	normalized := strings.ToLower(localPath)
	for _, pattern := range v.blockedPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains blocked pattern %q", pattern)
		}
	}

	for _, pattern := range v.encodedPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains encoded traversal")
		}
	}

	if normalized == ".." || strings.HasSuffix(normalized, "/..") {
		return fmt.Errorf("path contains blocked pattern %q", "..")
	}

	if cleaned := path.Clean(localPath); cleaned != localPath {
		return fmt.Errorf("path is not canonical, expected %q", cleaned)
	}

	return nil
}
