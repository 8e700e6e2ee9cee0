// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Weaver is a processing orchestrator exposing OGC API Processes over local
// Application Package execution and remote provider dispatch.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crim-ca/weaver-sub003/internal/api/handlers"
	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/dispatch"
	"github.com/crim-ca/weaver-sub003/internal/engine"
	"github.com/crim-ca/weaver-sub003/internal/logging"
	"github.com/crim-ca/weaver-sub003/internal/notify"
	"github.com/crim-ca/weaver-sub003/internal/provider"
	"github.com/crim-ca/weaver-sub003/internal/runner"
	"github.com/crim-ca/weaver-sub003/internal/scheduler"
	"github.com/crim-ca/weaver-sub003/internal/server"
	"github.com/crim-ca/weaver-sub003/internal/staging"
	"github.com/crim-ca/weaver-sub003/internal/store"
	"github.com/crim-ca/weaver-sub003/internal/workflow"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "weaver",
		Short:        "Processing orchestrator exposing OGC API Processes",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader("WEAVER")
			if err := loader.LoadWithDefaults(config.Defaults(), configPath); err != nil {
				return err
			}
			if err := loader.LoadFlags(cmd.Flags(), map[string]string{
				"port": "server.port",
				"mode": "mode",
			}); err != nil {
				return err
			}
			var cfg config.Config
			if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), &cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	cmd.Flags().IntP("port", "p", 0, "listen port override")
	cmd.Flags().String("mode", "", "deployment mode override (ades, ems, hybrid)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger.Info("starting weaver", "version", version, "mode", cfg.Mode)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.WPS.OutputDir, cfg.WPS.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	s3, err := staging.NewS3Backend(ctx, cfg.S3)
	if err != nil {
		return err
	}
	stager := staging.NewStager(cfg.WPS, s3, logger)
	fetcher := staging.NewFetcher(httpClient, s3, stager, cfg.Vault, logger)

	dispatchers := dispatch.NewSet(httpClient, fetcher, dispatch.MonitorConfig{
		InitialInterval: cfg.Worker.MonitorInitialInterval,
		MaxInterval:     cfg.Worker.MonitorMaxInterval,
	}, cfg.ADES, logger)

	builtins := runner.NewBuiltinRegistry()
	builtins.RegisterDefaults(fetcher)
	local := runner.NewCommandRunner(logger)

	loader := appkg.NewLoader(httpClient, st, logger)
	workflows := workflow.NewRunner(st, dispatchers, builtins, local, stager, fetcher, logger)

	mailer := notify.NewMailer(cfg.SMTP, cfg.Notify)
	notifier := notify.New(cfg, mailer, httpClient, logger)

	base := publicBase(cfg)
	payload := func(job *store.JobRecord) any {
		if job.Status == store.StatusSucceeded {
			return models.ResultsDocument(job, stager.PublicHref)
		}
		return models.NewJobStatusDoc(job, base)
	}

	eng := engine.New(cfg, st, stager, fetcher, dispatchers, builtins, local,
		workflows, notifier, payload, logger)
	sched := scheduler.New(cfg.Worker, st, eng, logger)

	if err := seedBuiltins(ctx, st, logger); err != nil {
		return err
	}

	providers := provider.New(httpClient, logger)
	handler := handlers.New(cfg, st, sched, loader, stager, providers, logger)

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler.Routes(), logger)

	// Workers outlive the HTTP context: a synchronous submission holds its
	// request open until the job completes, so the pool stops only once the
	// front-end has drained.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	srv.OnDrained(func(context.Context) {
		logger.Info("front-end drained, releasing job workers")
		stopWorkers()
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sched.Run(workerCtx) })
	group.Go(func() error { return srv.Run(ctx) })
	return group.Wait()
}

// seedBuiltins registers the builtin processes, tolerating replays across
// restarts.
func seedBuiltins(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	for _, proc := range runner.BuiltinProcesses() {
		err := st.SaveProcess(ctx, proc)
		if errors.Is(err, store.ErrProcessConflict) {
			continue
		}
		if err != nil {
			return err
		}
		logger.Info("builtin process registered", "process_id", proc.ID)
	}
	return nil
}

// publicBase derives the externally visible API base from the configured
// output URL, for notification payloads rendered outside a request.
func publicBase(cfg *config.Config) string {
	base := strings.TrimSuffix(cfg.WPS.OutputURL, "/")
	base = strings.TrimSuffix(base, strings.TrimSuffix(cfg.WPS.OutputPath, "/"))
	if base == "" {
		base = fmt.Sprintf("http://%s", cfg.Server.Addr())
	}
	return strings.TrimSuffix(base, "/")
}
