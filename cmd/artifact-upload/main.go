package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SensibleWeather/artifact.ci/cmd/artifact-upload/uploader"
	"github.com/SensibleWeather/artifact.ci/common/clients"
	"github.com/SensibleWeather/artifact.ci/common/config"
	"github.com/SensibleWeather/artifact.ci/common/logger"
)

// Version is set at build time
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "artifact-upload: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command. Flag defaults come from the GitHub Actions
// environment so the binary runs unconfigured inside a workflow step.
func newRootCmd() *cobra.Command {
	cfg := config.LoadUploader()

	cmd := &cobra.Command{
		Use:   "artifact-upload [paths...]",
		Short: "Upload CI artifacts to artifact.ci",
		Long: `Upload files produced by a GitHub Actions job to artifact.ci.

Paths may be files, directories or glob patterns (** crosses directories).
They default to the INPUT_PATH environment variable.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				cfg.Paths = args
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Origin, "origin", cfg.Origin, "artifact.ci server origin")
	flags.StringSliceVar(&cfg.Entrypoints, "entrypoint", cfg.Entrypoints, "Preferred entrypoint, as a local path (repeatable)")
	flags.IntVarP(&cfg.Concurrency, "concurrency", "j", cfg.Concurrency, "Parallel uploads")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Overall upload timeout")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.Run.Repository, "repository", cfg.Run.Repository, "owner/repo (GITHUB_REPOSITORY)")
	flags.StringVar(&cfg.Run.Job, "job", cfg.Run.Job, "Job id (GITHUB_JOB)")
	flags.Int64Var(&cfg.Run.RunID, "run-id", cfg.Run.RunID, "Workflow run id (GITHUB_RUN_ID)")
	flags.IntVar(&cfg.Run.RunAttempt, "run-attempt", cfg.Run.RunAttempt, "Workflow run attempt (GITHUB_RUN_ATTEMPT)")

	return cmd
}

func run(cmd *cobra.Command, cfg *config.UploaderConfig) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text")

	httpClient := clients.NewHTTPClient(clients.HTTPOptions{
		Timeout:   2 * time.Minute,
		RetryMax:  3,
		UserAgent: "artifact-upload/" + Version,
	}, log)
	api := clients.NewArtifactClient(cfg.Origin, httpClient, log)

	res, err := uploader.New(api, os.DirFS("."), cfg, log).Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Uploaded %d files (%d bytes) in %s\n", res.Files, res.Bytes, res.Duration.Round(time.Millisecond))
	for _, entrypoint := range res.Entrypoints {
		fmt.Fprintln(out, entrypoint)
	}
	return nil
}
