package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GitHub error classes. Callers branch on these with errors.Is.
var (
	// ErrGitHubNotFound means the resource does not exist or the token cannot see it
	ErrGitHubNotFound = errors.New("github: not found")
	// ErrGitHubRejected means GitHub refused the request (bad or underprivileged token)
	ErrGitHubRejected = errors.New("github: request rejected")
	// ErrGitHubUnavailable means GitHub could not be reached or failed server-side
	ErrGitHubUnavailable = errors.New("github: unavailable")
)

const maxJobPages = 10

// GitHubRepository is the subset of the repository resource used here
type GitHubRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Private  bool   `json:"private"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

// GitHubJob is one job of a workflow run attempt
type GitHubJob struct {
	ID         int64  `json:"id"`
	RunID      int64  `json:"run_id"`
	RunAttempt int    `json:"run_attempt"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// GitHubClient calls the GitHub REST API with the caller's token
type GitHubClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewGitHubClient creates a new GitHub client
func NewGitHubClient(baseURL string, http *HTTPClient, logger Logger) *GitHubClient {
	return &GitHubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		logger:  logger,
	}
}

// GetRepository fetches owner/repo using token
func (c *GitHubClient) GetRepository(ctx context.Context, token, owner, repo string) (*GitHubRepository, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	var out GitHubRepository
	if err := c.getJSON(ctx, token, endpoint, &out); err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	return &out, nil
}

// ListJobsForRunAttempt lists the jobs of one attempt of a workflow run
func (c *GitHubClient) ListJobsForRunAttempt(ctx context.Context, token, owner, repo string, runID int64, attempt int) ([]GitHubJob, error) {
	var jobs []GitHubJob

	for page := 1; page <= maxJobPages; page++ {
		endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/attempts/%d/jobs?per_page=100&page=%d",
			c.baseURL, url.PathEscape(owner), url.PathEscape(repo), runID, attempt, page)

		var out struct {
			TotalCount int         `json:"total_count"`
			Jobs       []GitHubJob `json:"jobs"`
		}
		if err := c.getJSON(ctx, token, endpoint, &out); err != nil {
			return nil, fmt.Errorf("list jobs for run %d attempt %d: %w", runID, attempt, err)
		}

		jobs = append(jobs, out.Jobs...)
		if len(out.Jobs) == 0 || len(jobs) >= out.TotalCount {
			break
		}
	}

	return jobs, nil
}

func (c *GitHubClient) getJSON(ctx context.Context, token, endpoint string, out interface{}) error {
	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.http.DoRequest(WithGitHubToken(ctx, token), http.MethodGet, endpoint, nil, header)
	if err != nil {
		c.logger.Warn("github request failed", "url", endpoint, "error", err)
		return fmt.Errorf("%w: %v", ErrGitHubUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyGitHubStatus(resp); err != nil {
		c.logger.Warn("github request unsuccessful", "url", endpoint, "status", resp.StatusCode)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrGitHubUnavailable, err)
	}
	return nil
}

func classifyGitHubStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := fmt.Sprintf("status=%d, body=%s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrGitHubNotFound, detail)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrGitHubUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", ErrGitHubRejected, detail)
	}
}
