package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// UploaderConfig holds settings of the CI upload client. Defaults come from
// the GitHub Actions environment and action inputs.
type UploaderConfig struct {
	Origin      string
	Paths       []string
	Entrypoints []string
	Concurrency int
	Timeout     time.Duration
	LogLevel    string
	Run         RunConfig
}

// RunConfig identifies the GitHub Actions job doing the upload
type RunConfig struct {
	Repository string
	Ref        string
	SHA        string
	RunID      int64
	RunAttempt int
	Job        string
	ServerURL  string
	Token      string
}

// LoadUploader reads uploader settings from the environment
func LoadUploader() *UploaderConfig {
	runID, _ := strconv.ParseInt(getEnv("GITHUB_RUN_ID", "0"), 10, 64)

	return &UploaderConfig{
		Origin:      getEnv("INPUT_ORIGIN", "https://artifact.ci"),
		Paths:       getEnvList("INPUT_PATH"),
		Entrypoints: getEnvList("INPUT_ENTRYPOINTS"),
		Concurrency: getEnvInt("INPUT_CONCURRENCY", 10),
		Timeout:     getEnvDuration("INPUT_TIMEOUT", 10*time.Minute),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Run: RunConfig{
			Repository: getEnv("GITHUB_REPOSITORY", ""),
			Ref:        getEnv("GITHUB_REF", ""),
			SHA:        getEnv("GITHUB_SHA", ""),
			RunID:      runID,
			RunAttempt: getEnvInt("GITHUB_RUN_ATTEMPT", 1),
			Job:        getEnv("GITHUB_JOB", ""),
			ServerURL:  getEnv("GITHUB_SERVER_URL", "https://github.com"),
			Token:      firstEnv("INPUT_GITHUB_TOKEN", "GITHUB_TOKEN"),
		},
	}
}

// Validate checks the uploader can build a bulk request
func (c *UploaderConfig) Validate() error {
	var errs []error

	origin, err := url.Parse(c.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		errs = append(errs, fmt.Errorf("invalid origin: %q", c.Origin))
	}
	if len(c.Paths) == 0 {
		errs = append(errs, errors.New("at least one path is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if c.Run.Repository == "" {
		errs = append(errs, errors.New("GITHUB_REPOSITORY is required"))
	}
	if c.Run.RunID <= 0 {
		errs = append(errs, errors.New("GITHUB_RUN_ID is required"))
	}
	if c.Run.Job == "" {
		errs = append(errs, errors.New("GITHUB_JOB is required"))
	}
	if c.Run.Token == "" {
		errs = append(errs, errors.New("a GitHub token is required"))
	}

	return errors.Join(errs...)
}

// getEnvList splits a newline or comma separated action input
func getEnvList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == '\n' || r == ',' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := getEnv(key, ""); value != "" {
			return value
		}
	}
	return ""
}
