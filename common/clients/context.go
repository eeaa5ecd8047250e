package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// GitHubTokenKey is the context key for the caller's GitHub token
	GitHubTokenKey contextKey = "github-token"
)

// WithGitHubToken adds a GitHub token to the context.
// HTTPClient sends it as a bearer Authorization header.
func WithGitHubToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, GitHubTokenKey, token)
}

// GetGitHubToken retrieves the GitHub token from context
func GetGitHubToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(GitHubTokenKey).(string)
	return token, ok && token != ""
}
