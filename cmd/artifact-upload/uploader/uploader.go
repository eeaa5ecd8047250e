// Package uploader expands local paths, requests upload tokens for them and
// pushes the files to storage.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SensibleWeather/artifact.ci/common/config"
	"github.com/SensibleWeather/artifact.ci/common/logger"
	"github.com/SensibleWeather/artifact.ci/common/sdk"
)

// ErrNoFiles is returned when no pattern matched a file
var ErrNoFiles = errors.New("no files matched the given paths")

// API is the artifact server surface the uploader needs
type API interface {
	RequestTokens(ctx context.Context, req *sdk.BulkRequest) (*sdk.BulkResponse, error)
	Upload(ctx context.Context, result sdk.BulkResult, content []byte) error
	Complete(ctx context.Context, clientToken string) (*sdk.CompleteResponse, error)
}

// Result summarises one upload run
type Result struct {
	Files       int
	Bytes       int64
	Entrypoints []string
	Duration    time.Duration
}

// Uploader uploads the files of one CI job
type Uploader struct {
	api  API
	fsys fs.FS
	cfg  *config.UploaderConfig
	log  *logger.Logger
}

// New creates an uploader reading files from fsys
func New(api API, fsys fs.FS, cfg *config.UploaderConfig, log *logger.Logger) *Uploader {
	return &Uploader{api: api, fsys: fsys, cfg: cfg, log: log}
}

// Run expands the configured paths, requests one token per file, then uploads
// and completes every file with bounded concurrency. The first failure cancels
// the remaining uploads.
func (u *Uploader) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	files, err := Expand(u.fsys, u.cfg.Paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoFiles, u.cfg.Paths)
	}
	u.log.Info("requesting upload tokens", "files", len(files), "repository", u.cfg.Run.Repository, "job", u.cfg.Run.Job)

	resp, err := u.api.RequestTokens(ctx, u.bulkRequest(files))
	if err != nil {
		return nil, fmt.Errorf("failed to request upload tokens: %w", err)
	}
	if len(resp.Results) != len(files) {
		return nil, fmt.Errorf("server issued %d tokens for %d files", len(resp.Results), len(files))
	}

	concurrency := u.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, result := range resp.Results {
		localPath := result.LocalPath
		if localPath == "" {
			localPath = files[i]
		}

		g.Go(func() error {
			n, err := u.uploadOne(gctx, localPath, result)
			if err != nil {
				return err
			}
			total.Add(n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Files:       len(files),
		Bytes:       total.Load(),
		Entrypoints: resp.Entrypoints,
		Duration:    time.Since(start),
	}
	u.log.Info("upload finished", "files", res.Files, "bytes", res.Bytes, "duration", res.Duration)
	return res, nil
}

func (u *Uploader) uploadOne(ctx context.Context, localPath string, result sdk.BulkResult) (int64, error) {
	content, err := fs.ReadFile(u.fsys, localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	if err := u.api.Upload(ctx, result, content); err != nil {
		return 0, err
	}

	completed, err := u.api.Complete(ctx, result.ClientToken)
	if err != nil {
		return 0, fmt.Errorf("failed to complete %s: %w", result.Pathname, err)
	}

	u.log.Debug("upload recorded", "pathname", completed.Pathname, "aliases", len(completed.Aliases))
	return int64(len(content)), nil
}

func (u *Uploader) bulkRequest(files []string) *sdk.BulkRequest {
	run := u.cfg.Run

	req := &sdk.BulkRequest{
		Type:        sdk.EventBulk,
		Files:       make([]sdk.BulkFile, len(files)),
		Entrypoints: u.cfg.Entrypoints,
		ClientPayload: sdk.ClientPayload{
			GitHubToken: run.Token,
			Commit: sdk.Commit{
				Ref:          run.Ref,
				SHA:          run.SHA,
				ActionsRunID: strconv.FormatInt(run.RunID, 10),
			},
			Context: sdk.RunContext{
				Repository:   run.Repository,
				Ref:          run.Ref,
				SHA:          run.SHA,
				RunID:        run.RunID,
				RunAttempt:   run.RunAttempt,
				Job:          run.Job,
				GitHubOrigin: run.ServerURL,
			},
		},
	}
	for i, f := range files {
		req.Files[i] = sdk.BulkFile{LocalPath: f}
	}
	return req
}
