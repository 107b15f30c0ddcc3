// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tenancyctl runs the tenant lifecycle and compliance service and
// its one-shot maintenance jobs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTenancy/pkg/logging"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/config"
)

// cli carries the global flags and the process state built from them.
type cli struct {
	configPath string
	inMemory   bool
	logLevel   string

	cfg    config.Config
	logger *logging.Logger

	// newApp is swapped by tests to share one app across commands.
	newApp func(ctx context.Context, cfg config.Config) (*app, error)
}

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	c.newApp = func(ctx context.Context, cfg config.Config) (*app, error) {
		return buildApp(ctx, cfg, appOptions{InMemory: c.inMemory})
	}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tenancyctl",
		Short: "Tenant lifecycle, retention and erasure for Aleutian",
		Long: `tenancyctl runs the tenancy API server and the jobs behind it:
tenant provisioning, the tamper-evident audit chain, retention
enforcement, right-to-erasure and cost anomaly detection.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("TENANCY_CONFIG"), "path to the YAML config file")
	root.PersistentFlags().BoolVar(&c.inMemory, "in-memory", false, "run against in-process fakes and discard all state on exit")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		c.serveCmd(),
		c.verifyChainCmd(),
		c.eraseCmd(),
		c.exportCmd(),
		c.detectCmd(),
		c.tenantCmd(),
		c.retentionCmd(),
	)
	return root
}

// setup loads configuration and installs the logger before any command.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.inMemory {
		cfg.Storage.Backend = "memory"
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	c.logger, err = logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(cfg.Logging.Format),
		File:    cfg.Logging.File,
		Service: cfg.Tracing.ServiceName,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(c.logger.Slog())
	c.cfg = cfg
	return nil
}

// withApp builds the app, runs fn and closes the app.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := c.newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("tenancy.shutdown.close_failed", "error", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
