package security

import (
	"fmt"
	"net/url"
	"strings"
)

// URLValidator validates caller-supplied URLs such as the GitHub server
// origin and the completion callback URL
type URLValidator struct {
	allowedProtocols map[string]bool
	allowedHosts     map[string]bool
}

// NewURLValidator creates a validator accepting http and https URLs.
// When hosts is non-empty only those hostnames are accepted.
func NewURLValidator(hosts ...string) *URLValidator {
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = true
	}
	return &URLValidator{
		allowedProtocols: map[string]bool{
			"http":  true,
			"https": true,
		},
		allowedHosts: allowed,
	}
}

// Validate parses raw and checks scheme, host and credentials
func (v *URLValidator) Validate(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("protocol scheme is required")
	}
	if !v.allowedProtocols[scheme] {
		return nil, fmt.Errorf("protocol '%s' is not allowed (only http/https permitted)", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if len(v.allowedHosts) > 0 && !v.allowedHosts[host] {
		return nil, fmt.Errorf("host '%s' is not allowed", host)
	}

	if parsed.User != nil {
		return nil, fmt.Errorf("credentials in URL are not allowed")
	}

	return parsed, nil
}
