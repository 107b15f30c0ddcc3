// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianTenancy/pkg/extensions"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/config"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/middleware"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/routes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/scheduler"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		runLogPath  string
		tokensPath  string
		noScheduler bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service, err := loadServiceOptions(tokensPath)
			if err != nil {
				return err
			}
			cleanup, err := initTracer(c.cfg.Tracing)
			if err != nil {
				return fmt.Errorf("failed to setup the OTLP tracer: %w", err)
			}
			defer cleanup(context.Background())

			return c.withApp(cmd, func(_ context.Context, a *app) error {
				return serve(ctx, a, c.cfg, serveOptions{
					RunLogPath:  runLogPath,
					NoScheduler: noScheduler,
					Service:     service,
				})
			})
		},
	}
	cmd.Flags().StringVar(&runLogPath, "run-log", "", "append one JSON line per background job run to this file")
	cmd.Flags().StringVar(&tokensPath, "auth-tokens", "", "YAML file of bearer tokens and roles; unset allows every caller as local-user")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without background jobs")
	return cmd
}

type serveOptions struct {
	RunLogPath  string
	NoScheduler bool
	Service     extensions.ServiceOptions
}

// newRouter builds the gin engine with tracing and request logging.
func newRouter(a *app, opts extensions.ServiceOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(a.cfg.Tracing.ServiceName))
	router.Use(middleware.RequestLogger())

	routes.SetupRoutes(router, routes.Services{
		Tenants:   a.tenants,
		Audit:     a.chain,
		Retention: a.retention,
		Anomalies: a.anomalies,
		Erasure:   a.erasure,
		Exports:   a.exports,
		Halt:      a.chain,
		Health:    a.health,
		Gatherer:  a.gather,
	}, opts)
	return router
}

// serve runs until ctx is cancelled, then drains HTTP and stops the jobs.
func serve(ctx context.Context, a *app, cfg config.Config, opts serveOptions) error {
	if !opts.NoScheduler {
		var runLog *scheduler.RunLog
		if opts.RunLogPath != "" {
			var err error
			if runLog, err = scheduler.OpenRunLog(opts.RunLogPath); err != nil {
				return err
			}
			defer runLog.Close()
		}

		deps := scheduler.Deps{
			Erasure: a.erasure,
			Anomaly: a.anomalies,
			Tenants: a.tenants,
			Chain:   a.chain,
			RunLog:  runLog,
			Halt:    a.chain.Halt(),
		}
		if a.enforcer != nil {
			deps.Retention = a.enforcer
		}
		sched := scheduler.New(deps, cfg.Scheduler)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	if cfg.Retention.WatchDefaults && cfg.Retention.DefaultsFile != "" {
		watcher, err := config.NewDefaultsWatcher(cfg.Retention.DefaultsFile, a.retention)
		if err != nil {
			return err
		}
		watcher.Start(ctx)
		defer func() { _ = watcher.Stop() }()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(a, opts.Service),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("tenancy.server.listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("tenancy.server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.exports.Wait()
	return nil
}
