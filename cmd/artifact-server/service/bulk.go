package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/common/alias"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/config"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/sdk"
	"github.com/SensibleWeather/artifact.ci/common/security"
	"github.com/SensibleWeather/artifact.ci/common/telemetry"
)

const mintConcurrency = 16

// BulkService issues upload tokens for every file of one CI job invocation
type BulkService struct {
	tracker       *TrackerService
	minter        *MinterService
	github        *GitHubService
	paths         *security.PathValidator
	urls          *security.URLValidator
	hosts         *security.IPValidator
	viewOrigin    string
	maxFiles      int
	timeout       time.Duration
	verifyJobs    bool
	allowedOwners map[string]struct{}
	log           *logger.Logger
	telemetry     *telemetry.Telemetry
}

// BulkServiceOpts contains options for creating a BulkService
type BulkServiceOpts struct {
	Tracker       *TrackerService
	Minter        *MinterService
	GitHub        *GitHubService
	Upload        config.UploadConfig
	AllowedOwners []string
	Logger        *logger.Logger
	Telemetry     *telemetry.Telemetry
}

// NewBulkService creates a new bulk service
func NewBulkService(opts *BulkServiceOpts) *BulkService {
	owners := make(map[string]struct{}, len(opts.AllowedOwners))
	for _, o := range opts.AllowedOwners {
		if o = strings.TrimSpace(o); o != "" {
			owners[strings.ToLower(o)] = struct{}{}
		}
	}

	maxFiles := opts.Upload.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1000
	}

	return &BulkService{
		tracker:       opts.Tracker,
		minter:        opts.Minter,
		github:        opts.GitHub,
		paths:         security.NewPathValidator(),
		urls:          security.NewURLValidator(),
		hosts:         security.NewIPValidator(),
		viewOrigin:    strings.TrimRight(opts.Upload.ViewOrigin, "/"),
		maxFiles:      maxFiles,
		timeout:       opts.Upload.BulkTimeout,
		verifyJobs:    opts.Upload.VerifyJobLiveness,
		allowedOwners: owners,
		log:           opts.Logger,
		telemetry:     opts.Telemetry,
	}
}

// bulkInput is a validated bulk request
type bulkInput struct {
	token       string
	owner       string
	repo        string
	ref         string
	sha         string
	runID       int64
	runAttempt  int
	job         string
	files       []sdk.BulkFile
	entrypoints []string
}

// Handle validates req, authorizes it against GitHub, tracks one upload
// request and mints a token per file. Minting fails fast: the first error
// cancels the rest and nothing partial is returned.
func (s *BulkService) Handle(ctx context.Context, req *sdk.BulkRequest) (*sdk.BulkResponse, error) {
	defer s.telemetry.RecordDuration("bulk", time.Now())

	in, err := s.validate(req)
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := logger.FromContext(ctx, s.log).WithFields(map[string]any{
		"repo":        in.owner + "/" + in.repo,
		"run_id":      in.runID,
		"run_attempt": in.runAttempt,
		"job":         in.job,
	})
	ctx = logger.IntoContext(ctx, log)

	if len(s.allowedOwners) > 0 {
		if _, ok := s.allowedOwners[strings.ToLower(in.owner)]; !ok {
			log.Warn("upload rejected for owner outside allow-list")
			return nil, s.reject(ctx, apperr.Unauthorized(fmt.Sprintf("owner %s is not allowed to upload", in.owner)))
		}
	}

	repo, err := s.github.Repository(ctx, in.token, in.owner, in.repo)
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	scope := models.Scope{
		Owner:      in.owner,
		Repo:       in.repo,
		HTMLURL:    repo.HTMLURL,
		RunID:      in.runID,
		RunAttempt: in.runAttempt,
		Job:        in.job,
	}
	if repo.Owner.Login != "" && repo.Name != "" {
		scope.Owner, scope.Repo = repo.Owner.Login, repo.Name
	}
	if scope.HTMLURL == "" {
		scope.HTMLURL = "https://github.com/" + scope.Owner + "/" + scope.Repo
	}

	if s.verifyJobs {
		if err := s.github.VerifyJobLive(ctx, in.token, scope); err != nil {
			return nil, s.reject(ctx, err)
		}
	}

	// Reject escaping paths and disallowed types before a request counts
	// against the ceiling.
	prefix := scope.PathPrefix()
	pathnames := make([]string, len(in.files))
	for i, f := range in.files {
		pathname := path.Join(prefix, f.Path())
		if !strings.HasPrefix(pathname, prefix+"/") {
			return nil, s.reject(ctx, apperr.Validation("file escapes its upload scope", apperr.FieldError{
				Field:   fmt.Sprintf("files[%d].localPath", i),
				Message: "resolves outside " + prefix,
			}))
		}
		if s.minter.resolver.Enforced() {
			if err := s.minter.resolver.Check(ctx, pathname, s.minter.resolver.Resolve(pathname)); err != nil {
				return nil, s.reject(ctx, err)
			}
		}
		pathnames[i] = pathname
	}

	uploadRequest, err := s.tracker.Track(ctx, models.TrackInput{Scope: scope, Ref: in.ref, SHA: in.sha})
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	payload := models.TokenPayload{
		UploadRequestID: uploadRequest.ID,
		Ref:             in.ref,
		SHA:             in.sha,
		RunID:           in.runID,
	}

	results := make([]sdk.BulkResult, len(in.files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mintConcurrency)
	for i, file := range in.files {
		g.Go(func() error {
			minted, err := s.minter.Mint(gctx, MintInput{Pathname: pathnames[i], Payload: payload})
			if err != nil {
				return fmt.Errorf("%s: %w", file.Path(), err)
			}

			results[i] = sdk.BulkResult{
				Pathname:      minted.Pathname,
				ClientToken:   minted.ClientToken,
				UploadURL:     minted.UploadURL,
				UploadHeaders: minted.UploadHeaders,
				ExpiresAt:     minted.ExpiresAt,
				ViewURL:       s.viewURL(minted.Pathname),
				ContentType:   minted.ContentType,
				LocalPath:     file.LocalPath,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("token minting failed", "error", err, "upload_request_id", uploadRequest.ID)
		return nil, s.deadline(ctx, err)
	}

	viewURLs := make([]string, len(results))
	for i, r := range results {
		viewURLs[i] = r.ViewURL
	}
	requested := make([]string, len(in.entrypoints))
	for i, e := range in.entrypoints {
		requested[i] = s.viewURL(path.Join(prefix, e))
	}

	log.Info("upload tokens issued", "files", len(results), "upload_request_id", uploadRequest.ID)
	return &sdk.BulkResponse{
		Results:     results,
		Entrypoints: alias.Entrypoints(viewURLs, requested),
	}, nil
}

func (s *BulkService) viewURL(pathname string) string {
	return s.viewOrigin + "/artifact/blob/" + pathname
}

func (s *BulkService) reject(ctx context.Context, err error) error {
	s.telemetry.RecordUploadRequest("rejected")
	return s.deadline(ctx, err)
}

// deadline reports an exhausted request budget as an upstream timeout
func (s *BulkService) deadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperr.IsKind(err, apperr.KindRateLimited) {
		return apperr.UpstreamUnavailable("upload token issuance timed out", err)
	}
	return err
}

func (s *BulkService) validate(req *sdk.BulkRequest) (*bulkInput, error) {
	if req == nil {
		return nil, apperr.Validation("request body is required")
	}

	var issues []apperr.FieldError
	invalid := func(field, message string) {
		issues = append(issues, apperr.FieldError{Field: field, Message: message})
	}

	switch {
	case len(req.Files) == 0:
		invalid("files", "at least one file is required")
	case len(req.Files) > s.maxFiles:
		invalid("files", fmt.Sprintf("at most %d files can be uploaded at once", s.maxFiles))
	}

	seen := make(map[string]int, len(req.Files))
	for i, f := range req.Files {
		field := fmt.Sprintf("files[%d]", i)
		p := f.Path()
		if err := s.paths.Validate(p); err != nil {
			invalid(field+".localPath", err.Error())
			continue
		}
		if first, dup := seen[p]; dup {
			invalid(field+".localPath", fmt.Sprintf("duplicates files[%d]", first))
			continue
		}
		seen[p] = i
		if f.ContentType == "" {
			continue
		}
		if strings.Contains(f.ContentType, "*") {
			invalid(field+".contentType", "must be a single concrete content type")
		} else if resolved := s.minter.resolver.Resolve(p); !sameMediaType(f.ContentType, resolved) {
			invalid(field+".contentType", fmt.Sprintf("%s does not match %s resolved from the file extension", f.ContentType, resolved))
		}
	}

	if req.CallbackURL != "" {
		u, err := s.urls.Validate(req.CallbackURL)
		if err == nil {
			err = s.hosts.ValidateHost(u.Hostname())
		}
		if err != nil {
			invalid("callbackUrl", err.Error())
		}
	}

	cp := req.ClientPayload
	owner, repo, ok := cp.Context.OwnerRepo()
	if !ok {
		invalid("clientPayload.context.repository", "must be owner/repo")
	}

	ref := firstNonEmpty(cp.Commit.Ref, cp.Context.Ref)
	if ref == "" {
		invalid("clientPayload.commit.ref", "ref is required")
	}
	sha := firstNonEmpty(cp.Commit.SHA, cp.Context.SHA)
	if sha == "" {
		invalid("clientPayload.commit.sha", "sha is required")
	}

	switch {
	case cp.Context.RunID <= 0:
		invalid("clientPayload.context.runId", "must be a positive integer")
	case cp.Commit.ActionsRunID != "" && cp.Commit.ActionsRunID != strconv.FormatInt(cp.Context.RunID, 10):
		invalid("clientPayload.commit.actions_run_id", "does not match context.runId")
	}
	if cp.Context.RunAttempt < 1 {
		invalid("clientPayload.context.runAttempt", "must be a positive integer")
	}

	job := strings.TrimSpace(cp.Context.Job)
	switch {
	case job == "":
		invalid("clientPayload.context.job", "job is required")
	case !isPathSegment(job):
		invalid("clientPayload.context.job", "must be a single path segment")
	}

	if len(issues) > 0 {
		return nil, apperr.Validation("invalid upload request", issues...)
	}

	if cp.GitHubToken == "" {
		return nil, apperr.Unauthorized("clientPayload.githubToken is required")
	}

	return &bulkInput{
		token:       cp.GitHubToken,
		owner:       owner,
		repo:        repo,
		ref:         ref,
		sha:         sha,
		runID:       cp.Context.RunID,
		runAttempt:  cp.Context.RunAttempt,
		job:         job,
		files:       req.Files,
		entrypoints: req.Entrypoints,
	}, nil
}

// isPathSegment reports whether s joins as exactly one storage path segment
func isPathSegment(s string) bool {
	if s == "." || s == ".." || strings.ContainsAny(s, "/\\") {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return path.Clean(s) == s
}

// sameMediaType compares media types ignoring case and parameters
func sameMediaType(a, b string) bool {
	a, _, _ = strings.Cut(a, ";")
	b, _, _ = strings.Cut(b, ";")
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
