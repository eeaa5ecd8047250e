package contenttype

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/logger"
)

// DefaultType is returned for unknown extensions
const DefaultType = "text/plain"

var byExtension = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".cjs":   "text/javascript",
	".json":  "application/json",
	".map":   "application/json",
	".txt":   "text/plain",
	".log":   "text/plain",
	".md":    "text/markdown",
	".csv":   "text/csv",
	".xml":   "application/xml",
	".yaml":  "application/yaml",
	".yml":   "application/yaml",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".wasm":  "application/wasm",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".tar":   "application/x-tar",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
}

// DefaultAllowed is the audited allow-set of upload content types
var DefaultAllowed = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"text/plain",
	"text/html",
	"text/css",
	"text/javascript",
	"application/javascript",
	"application/json",
}

// Resolver maps pathnames to MIME types and audits them against an allow policy
type Resolver struct {
	allowed map[string]struct{}
	policy  *Policy
	enforce bool
	log     *logger.Logger
}

// NewResolver creates a resolver. policy may be nil; with enforce false,
// disallowed types are logged and accepted.
func NewResolver(policy *Policy, enforce bool, log *logger.Logger) *Resolver {
	allowed := make(map[string]struct{}, len(DefaultAllowed))
	for _, t := range DefaultAllowed {
		allowed[t] = struct{}{}
	}
	return &Resolver{
		allowed: allowed,
		policy:  policy,
		enforce: enforce,
		log:     log,
	}
}

// Resolve returns the MIME type for pathname, falling back to text/plain
func Resolve(pathname string) string {
	ext := strings.ToLower(path.Ext(pathname))
	if ext == "" {
		return DefaultType
	}
	if t, ok := byExtension[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if media, _, err := mime.ParseMediaType(t); err == nil {
			return media
		}
	}
	return DefaultType
}

// Resolve returns the MIME type for pathname
func (r *Resolver) Resolve(pathname string) string {
	return Resolve(pathname)
}

// IsAllowed reports whether mimeType is in the allow-set or accepted by the policy
func (r *Resolver) IsAllowed(pathname, mimeType string) bool {
	if _, ok := r.allowed[mimeType]; ok {
		return true
	}
	if r.policy == nil {
		return false
	}
	ok, err := r.policy.Allows(mimeType, pathname)
	if err != nil {
		r.log.Warn("content policy evaluation failed", "mime", mimeType, "pathname", pathname, "error", err)
		return false
	}
	return ok
}

// Enforced reports whether Check rejects types outside the policy
func (r *Resolver) Enforced() bool {
	return r.enforce
}

// Check audits a content type. Unless enforcement is on it never rejects.
func (r *Resolver) Check(ctx context.Context, pathname, mimeType string) error {
	if r.IsAllowed(pathname, mimeType) {
		return nil
	}

	if !r.enforce {
		logger.FromContext(ctx, r.log).Warn("content type outside allow-list, accepting",
			"pathname", pathname,
			"mime", mimeType,
		)
		return nil
	}

	return apperr.Validation("content type not allowed", apperr.FieldError{
		Field:   "contentType",
		Message: mimeType + " is not allowed for " + pathname,
	})
}
