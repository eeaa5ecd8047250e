package container

import (
	"context"
	"fmt"
	"time"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/repository"
	"github.com/SensibleWeather/artifact.ci/cmd/artifact-server/service"
	"github.com/SensibleWeather/artifact.ci/common/bootstrap"
	"github.com/SensibleWeather/artifact.ci/common/clients"
	"github.com/SensibleWeather/artifact.ci/common/contenttype"
	"github.com/SensibleWeather/artifact.ci/common/ratelimit"
	"github.com/SensibleWeather/artifact.ci/common/storage"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components  *bootstrap.Components
	Store       *storage.S3Store
	GitHub      *clients.GitHubClient
	RateLimiter *ratelimit.RateLimiter // nil when Redis is disabled

	// Repositories
	UploadRequestRepo *repository.UploadRequestRepository
	UploadRepo        *repository.UploadRepository

	// Services
	TrackerService  *service.TrackerService
	MinterService   *service.MinterService
	RecorderService *service.RecorderService
	GitHubService   *service.GitHubService
	BulkService     *service.BulkService
	ViewService     *service.ViewService
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	store, err := storage.NewS3Store(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	var policy *contenttype.Policy
	if cfg.Upload.ContentPolicy != "" {
		if policy, err = contenttype.NewPolicy(cfg.Upload.ContentPolicy); err != nil {
			return nil, fmt.Errorf("failed to compile content policy: %w", err)
		}
	}
	resolver := contenttype.NewResolver(policy, cfg.Upload.EnforceContentPolicy, log)
	signer := storage.NewTokenSigner([]byte(cfg.Upload.SigningSecret))

	httpClient := clients.NewHTTPClient(clients.HTTPOptions{
		Timeout:      cfg.GitHub.Timeout,
		RetryMax:     cfg.GitHub.RetryMax,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		UserAgent:    "artifact.ci/" + cfg.Service.Name,
	}, log)
	github := clients.NewGitHubClient(cfg.GitHub.APIURL, httpClient, log)

	var limiter *ratelimit.RateLimiter
	if components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	// Initialize repositories
	uploadRequestRepo := repository.NewUploadRequestRepository(components.DB)
	uploadRepo := repository.NewUploadRepository(components.DB)

	// Initialize services (bottom-up: dependencies first)
	trackerService := service.NewTrackerService(uploadRequestRepo, cfg.Upload.RequestCeiling, log, components.Telemetry)
	minterService := service.NewMinterService(&service.MinterServiceOpts{
		Signer:          signer,
		Store:           store,
		Resolver:        resolver,
		TTL:             cfg.Upload.TokenTTL,
		AddRandomSuffix: cfg.Upload.AddRandomSuffix,
		Logger:          log,
		Telemetry:       components.Telemetry,
	})
	recorderService := service.NewRecorderService(&service.RecorderServiceOpts{
		Uploads:        uploadRepo,
		Store:          store,
		Signer:         signer,
		Resolver:       resolver,
		CallbackSecret: []byte(cfg.Upload.CallbackSecret),
		Logger:         log,
		Telemetry:      components.Telemetry,
	})
	githubService := service.NewGitHubService(github, components.Cache, cfg.Cache.DefaultTTL, log, components.Telemetry)
	bulkService := service.NewBulkService(&service.BulkServiceOpts{
		Tracker:       trackerService,
		Minter:        minterService,
		GitHub:        githubService,
		Upload:        cfg.Upload,
		AllowedOwners: cfg.GitHub.AllowedOwners,
		Logger:        log,
		Telemetry:     components.Telemetry,
	})
	viewService := service.NewViewService(uploadRepo, uploadRequestRepo, cfg.Upload.ViewOrigin)

	return &Container{
		Components:        components,
		Store:             store,
		GitHub:            github,
		RateLimiter:       limiter,
		UploadRequestRepo: uploadRequestRepo,
		UploadRepo:        uploadRepo,
		TrackerService:    trackerService,
		MinterService:     minterService,
		RecorderService:   recorderService,
		GitHubService:     githubService,
		BulkService:       bulkService,
		ViewService:       viewService,
	}, nil
}
