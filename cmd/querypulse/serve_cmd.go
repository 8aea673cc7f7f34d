package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"querypulse/internal/api"
	"querypulse/internal/config"
	"querypulse/internal/etl"
	"querypulse/internal/middleware"
	"querypulse/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen      string
		noScheduler bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled passes and serve the read API",
		Long: "Migrates the store, schedules the record, baseline and retention passes\n" +
			"and serves the read API, /healthz and /metrics until interrupted. Changes\n" +
			"to CONFIG_FILE are applied to passes that start after the change.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := opts.app
			if cmd.Flags().Changed("listen") {
				a.cfg.ListenAddr = listen
			}
			return serve(cmd.Context(), a, !noScheduler)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override LISTEN_ADDR")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without running scheduled passes")
	return cmd
}

func serve(ctx context.Context, a *app, withScheduler bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e, err := a.openEngine(ctx, withScheduler, true)
	if err != nil {
		return err
	}

	if withScheduler {
		sched := scheduler.New(e.runner, a.logger.With("component", "scheduler"))
		if err := sched.Start(scheduler.Schedules{
			RecordPass: a.cfg.Schedules.RecordPass,
			Baseline:   a.cfg.Schedules.Baseline,
			Retention:  a.cfg.Schedules.Retention,
		}); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if a.cfg.ConfigFile != "" {
		go func() {
			err := config.WatchEngine(ctx, a.cfg.ConfigFile, a.cfg.Engine, a.logger.With("component", "config"),
				func(ec config.EngineConfig) {
					e.runner.Reconfigure(etl.ConfigFromEngine(ec))
				})
			if err != nil {
				a.logger.Error("config watcher stopped", "path", a.cfg.ConfigFile, "error", err)
			}
		}()
	}

	handler := api.NewHandler(api.Deps{
		Patterns:  e.patterns,
		Baselines: e.baselines,
		Alerts:    e.alerts,
		Runs:      e.runs,
		Engine:    e.runner,
	}, a.logger.With("component", "api"))

	srv := &http.Server{
		Addr: a.cfg.ListenAddr,
		Handler: api.NewRouter(ctx, handler, api.RouterConfig{
			CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
			RateLimit: middleware.RateLimitConfig{
				RequestsPerSecond: a.cfg.RateLimitRPS,
				Burst:             a.cfg.RateLimitBurst,
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening", "addr", a.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
