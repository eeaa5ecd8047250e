package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/models"
	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/clients"
	"github.com/SensibleWeather/artifact.ci/common/config"
	"github.com/SensibleWeather/artifact.ci/common/contenttype"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/sdk"
	"github.com/SensibleWeather/artifact.ci/common/storage"
	"github.com/SensibleWeather/artifact.ci/common/telemetry"
)

type bulkFixture struct {
	requests  *fakeRequests
	objects   *fakeObjects
	github    *fakeGitHub
	telemetry *telemetry.Telemetry
	bulk      *BulkService
}

func newBulkFixture(t *testing.T, mutate func(*config.UploadConfig, *BulkServiceOpts)) *bulkFixture {
	t.Helper()

	f := &bulkFixture{
		requests:  newFakeRequests(),
		objects:   &fakeObjects{},
		github:    newFakeGitHub(),
		telemetry: telemetry.New(0, 0, logger.Discard()),
	}

	upload := config.UploadConfig{
		ViewOrigin:        "https://artifact.ci/",
		RequestCeiling:    1,
		TokenTTL:          time.Minute,
		MaxFiles:          10,
		BulkTimeout:       5 * time.Second,
		VerifyJobLiveness: true,
	}
	opts := &BulkServiceOpts{Logger: logger.Discard(), Telemetry: f.telemetry}
	if mutate != nil {
		mutate(&upload, opts)
	}

	opts.Upload = upload
	opts.Tracker = NewTrackerService(f.requests, upload.RequestCeiling, logger.Discard(), f.telemetry)
	opts.Minter = NewMinterService(&MinterServiceOpts{
		Signer:          storage.NewTokenSigner(testSecret),
		Store:           f.objects,
		Resolver:        contenttype.NewResolver(nil, upload.EnforceContentPolicy, logger.Discard()),
		TTL:             upload.TokenTTL,
		AddRandomSuffix: upload.AddRandomSuffix,
		Logger:          logger.Discard(),
		Telemetry:       f.telemetry,
	})
	opts.GitHub = NewGitHubService(f.github, nil, 0, logger.Discard(), f.telemetry)

	f.bulk = NewBulkService(opts)
	return f
}

func bulkRequest(paths ...string) *sdk.BulkRequest {
	files := make([]sdk.BulkFile, len(paths))
	for i, p := range paths {
		files[i] = sdk.BulkFile{LocalPath: p}
	}
	return &sdk.BulkRequest{
		Type:  sdk.EventBulk,
		Files: files,
		ClientPayload: sdk.ClientPayload{
			GitHubToken: "ghs_token",
			Commit:      sdk.Commit{Ref: "refs/heads/main", SHA: "abc123"},
			Context: sdk.RunContext{
				Repository: "mmkal/artifact.ci",
				RunID:      100,
				RunAttempt: 1,
				Job:        "test",
			},
		},
	}
}

func TestBulk_IssuesTokenPerFile(t *testing.T) {
	f := newBulkFixture(t, nil)

	resp, err := f.bulk.Handle(context.Background(), bulkRequest("dist/index.html", "dist/app.js", "dist/style.css"))
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	wantPaths := []string{
		"mmkal/artifact.ci/100/1/test/dist/index.html",
		"mmkal/artifact.ci/100/1/test/dist/app.js",
		"mmkal/artifact.ci/100/1/test/dist/style.css",
	}
	signer := storage.NewTokenSigner(testSecret)
	var requestID string
	for i, r := range resp.Results {
		assert.Equal(t, wantPaths[i], r.Pathname)
		assert.Equal(t, "https://artifact.ci/artifact/blob/"+wantPaths[i], r.ViewURL)
		assert.NotEmpty(t, r.UploadURL)

		claims, err := signer.Verify(r.ClientToken)
		require.NoError(t, err)
		assert.Equal(t, wantPaths[i], claims.Pathname())

		payload, err := models.DecodeTokenPayload(claims.TokenPayload)
		require.NoError(t, err)
		if requestID == "" {
			requestID = payload.UploadRequestID.String()
		}
		assert.Equal(t, requestID, payload.UploadRequestID.String(), "all tokens share one upload request")
		assert.Equal(t, int64(100), payload.RunID)
	}
	assert.Equal(t, "text/html", resp.Results[0].ContentType)
	assert.Equal(t, "text/javascript", resp.Results[1].ContentType)

	assert.Equal(t, []string{"https://artifact.ci/artifact/blob/mmkal/artifact.ci/100/1/test/dist"}, resp.Entrypoints)
	require.Len(t, f.requests.tracked, 1)
	assert.Equal(t, "https://github.com/mmkal/artifact.ci", f.requests.tracked[0].HTMLURL)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.telemetry.TokensMinted))
}

func TestBulk_SecondRequestForScopeIsRateLimited(t *testing.T) {
	f := newBulkFixture(t, nil)

	_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
	require.NoError(t, err)

	_, err = f.bulk.Handle(context.Background(), bulkRequest("b.txt"))
	appErr := requireKind(t, err, apperr.KindRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, appErr.Status())
	assert.Equal(t, int32(1), f.objects.presigned.Load())
}

func TestBulk_RequestedEntrypoints(t *testing.T) {
	f := newBulkFixture(t, nil)
	req := bulkRequest("site/index.html", "coverage/index.html", "coverage/app.ts.html")
	req.Entrypoints = []string{"coverage", "missing", "site/index.html"}

	resp, err := f.bulk.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://artifact.ci/artifact/blob/mmkal/artifact.ci/100/1/test/coverage",
		"https://artifact.ci/artifact/blob/mmkal/artifact.ci/100/1/test/site/index.html",
	}, resp.Entrypoints)
}

func TestBulk_Validation(t *testing.T) {
	tests := map[string]struct {
		mutate func(*sdk.BulkRequest)
		field  string
	}{
		"no files":         {func(r *sdk.BulkRequest) { r.Files = nil }, "files"},
		"too many files":   {func(r *sdk.BulkRequest) { r.Files = make([]sdk.BulkFile, 11) }, "files"},
		"traversal":        {func(r *sdk.BulkRequest) { r.Files[0].LocalPath = "../etc/passwd" }, "files[0].localPath"},
		"duplicate":        {func(r *sdk.BulkRequest) { r.Files = append(r.Files, r.Files[0]) }, "files[1].localPath"},
		"wildcard type":    {func(r *sdk.BulkRequest) { r.Files[0].ContentType = "*/*" }, "files[0].contentType"},
		"type mismatch":    {func(r *sdk.BulkRequest) { r.Files[0].ContentType = "text/plain" }, "files[0].contentType"},
		"bad repository":   {func(r *sdk.BulkRequest) { r.ClientPayload.Context.Repository = "nope" }, "clientPayload.context.repository"},
		"missing sha":      {func(r *sdk.BulkRequest) { r.ClientPayload.Commit.SHA = "" }, "clientPayload.commit.sha"},
		"missing run":      {func(r *sdk.BulkRequest) { r.ClientPayload.Context.RunID = 0 }, "clientPayload.context.runId"},
		"run mismatch":     {func(r *sdk.BulkRequest) { r.ClientPayload.Commit.ActionsRunID = "99" }, "clientPayload.commit.actions_run_id"},
		"missing attempt":  {func(r *sdk.BulkRequest) { r.ClientPayload.Context.RunAttempt = 0 }, "clientPayload.context.runAttempt"},
		"missing job":      {func(r *sdk.BulkRequest) { r.ClientPayload.Context.Job = " " }, "clientPayload.context.job"},
		"dot job":          {func(r *sdk.BulkRequest) { r.ClientPayload.Context.Job = "." }, "clientPayload.context.job"},
		"parent job":       {func(r *sdk.BulkRequest) { r.ClientPayload.Context.Job = ".." }, "clientPayload.context.job"},
		"nested job":       {func(r *sdk.BulkRequest) { r.ClientPayload.Context.Job = "a/b" }, "clientPayload.context.job"},
		"control job":      {func(r *sdk.BulkRequest) { r.ClientPayload.Context.Job = "a\nb" }, "clientPayload.context.job"},
		"bad callback":     {func(r *sdk.BulkRequest) { r.CallbackURL = "ftp://example.com" }, "callbackUrl"},
		"private callback": {func(r *sdk.BulkRequest) { r.CallbackURL = "http://169.254.169.254/latest" }, "callbackUrl"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newBulkFixture(t, nil)
			req := bulkRequest("dist/index.html")
			tt.mutate(req)

			_, err := f.bulk.Handle(context.Background(), req)
			appErr := requireKind(t, err, apperr.KindValidation)

			detail, ok := appErr.Detail.(map[string]any)
			require.True(t, ok)
			issues, ok := detail["issues"].([]apperr.FieldError)
			require.True(t, ok)

			var fields []string
			for _, issue := range issues {
				fields = append(fields, issue.Field)
			}
			assert.Contains(t, fields, tt.field)
			assert.Empty(t, f.requests.tracked)
		})
	}
}

func TestBulk_RefAndShaFallBackToContext(t *testing.T) {
	f := newBulkFixture(t, nil)
	req := bulkRequest("a.txt")
	req.ClientPayload.Commit = sdk.Commit{}
	req.ClientPayload.Context.Ref = "refs/heads/feature"
	req.ClientPayload.Context.SHA = "def456"

	_, err := f.bulk.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/feature", f.requests.tracked[0].Ref)
	assert.Equal(t, "def456", f.requests.tracked[0].SHA)
}

func TestBulk_Authorization(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		f := newBulkFixture(t, nil)
		req := bulkRequest("a.txt")
		req.ClientPayload.GitHubToken = ""

		_, err := f.bulk.Handle(context.Background(), req)
		requireKind(t, err, apperr.KindUnauthorized)
		assert.Zero(t, f.github.repoCalls.Load())
	})

	t.Run("owner outside allow-list", func(t *testing.T) {
		f := newBulkFixture(t, func(_ *config.UploadConfig, opts *BulkServiceOpts) {
			opts.AllowedOwners = []string{"someone-else"}
		})

		_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
		requireKind(t, err, apperr.KindUnauthorized)
		assert.Zero(t, f.github.repoCalls.Load())
		assert.Equal(t, 1.0, testutil.ToFloat64(f.telemetry.UploadRequests.WithLabelValues("rejected")))
	})

	t.Run("allow-list is case insensitive", func(t *testing.T) {
		f := newBulkFixture(t, func(_ *config.UploadConfig, opts *BulkServiceOpts) {
			opts.AllowedOwners = []string{"MMKAL"}
		})

		_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
		require.NoError(t, err)
	})

	t.Run("token rejected by github", func(t *testing.T) {
		f := newBulkFixture(t, nil)
		f.github.repoErr = clients.ErrGitHubRejected

		_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
		appErr := requireKind(t, err, apperr.KindUpstreamClient)
		assert.Equal(t, http.StatusBadRequest, appErr.Status())
		assert.Empty(t, f.requests.tracked)
	})

	t.Run("github unavailable", func(t *testing.T) {
		f := newBulkFixture(t, nil)
		f.github.repoErr = clients.ErrGitHubUnavailable

		_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
		appErr := requireKind(t, err, apperr.KindUpstreamUnavailable)
		assert.Equal(t, http.StatusBadGateway, appErr.Status())
	})

	t.Run("job no longer running", func(t *testing.T) {
		f := newBulkFixture(t, nil)
		f.github.jobs = []clients.GitHubJob{{Name: "test", Status: "completed"}}

		_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
		requireKind(t, err, apperr.KindNotFound)
		assert.Empty(t, f.requests.tracked)
	})

	t.Run("liveness check disabled", func(t *testing.T) {
		f := newBulkFixture(t, func(upload *config.UploadConfig, _ *BulkServiceOpts) {
			upload.VerifyJobLiveness = false
		})
		f.github.jobs = nil

		_, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
		require.NoError(t, err)
		assert.Zero(t, f.github.jobCalls.Load())
	})
}

func TestBulk_MintFailureFailsWholeRequest(t *testing.T) {
	f := newBulkFixture(t, nil)
	f.objects.presignErr = errBoom
	f.objects.failOn = "mmkal/artifact.ci/100/1/test/b.txt"

	resp, err := f.bulk.Handle(context.Background(), bulkRequest("a.txt", "b.txt", "c.txt"))
	assert.Nil(t, resp)
	requireKind(t, err, apperr.KindUpstreamUnavailable)
	assert.True(t, errors.Is(err, errBoom))

	// the upload request was still tracked, so a retry hits the ceiling
	assert.Len(t, f.requests.tracked, 1)
	_, err = f.bulk.Handle(context.Background(), bulkRequest("a.txt"))
	requireKind(t, err, apperr.KindRateLimited)
}

func TestBulk_EnforcedContentPolicyRejectsBeforeTracking(t *testing.T) {
	f := newBulkFixture(t, func(upload *config.UploadConfig, _ *BulkServiceOpts) {
		upload.EnforceContentPolicy = true
	})
	req := bulkRequest("dist/index.html", "dist/bundle.zip")

	_, err := f.bulk.Handle(context.Background(), req)
	requireKind(t, err, apperr.KindValidation)
	assert.Empty(t, f.requests.tracked)
}

func TestBulk_ParentJobCannotLeaveScope(t *testing.T) {
	f := newBulkFixture(t, nil)
	req := bulkRequest("2/test/index.html")
	req.ClientPayload.Context.Job = ".."

	_, err := f.bulk.Handle(context.Background(), req)
	requireKind(t, err, apperr.KindValidation)
	assert.Empty(t, f.requests.tracked)
	assert.Zero(t, f.objects.presigned.Load())
}

func TestBulk_ClientContentTypeMustMatchExtension(t *testing.T) {
	f := newBulkFixture(t, nil)
	req := bulkRequest("dist/index.html", "dist/notes.txt")
	req.Files[0].ContentType = "TEXT/HTML; charset=utf-8"

	resp, err := f.bulk.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "text/html", resp.Results[0].ContentType)
	assert.Equal(t, "text/plain", resp.Results[1].ContentType)

	f = newBulkFixture(t, nil)
	req = bulkRequest("notes.txt")
	req.Files[0].ContentType = "text/html"

	_, err = f.bulk.Handle(context.Background(), req)
	requireKind(t, err, apperr.KindValidation)
	assert.Empty(t, f.requests.tracked)
}
