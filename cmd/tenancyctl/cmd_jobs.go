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
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTenancy/pkg/ux"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// =============================================================================
// verify-chain
// =============================================================================

func (c *cli) verifyChainCmd() *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "verify-chain",
		Short: "Recompute the audit hash chain and report the first broken entry",
		Long: `verify-chain recomputes every hash in [--from, --to] (default: the whole
chain). It exits non-zero when an entry was altered, reordered or removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.chain.Verify(ctx, from, to)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				status := ux.NewPrinter(cmd.ErrOrStderr())
				if err := result.Err(); err != nil {
					status.Failure("audit chain broken at sequence %d", *result.BrokenAtSeq)
					return err
				}
				status.Success("audit chain valid, %d entries checked", result.Checked)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first sequence to check")
	cmd.Flags().Int64Var(&to, "to", 0, "last sequence to check, 0 for the head")
	return cmd
}

// =============================================================================
// erase
// =============================================================================

func (c *cli) eraseCmd() *cobra.Command {
	var (
		requestedBy string
		status      bool
		abort       string
		resumeAll   bool
	)
	cmd := &cobra.Command{
		Use:   "erase [tenant-id]",
		Short: "Run, resume, inspect or abort a right-to-erasure job",
		Long: `erase runs the seven-step erasure pipeline for a tenant. A failed job
resumes from its last completed step when erase is run again.

  tenancyctl erase <id>                 run or resume
  tenancyctl erase <id> --status        show the checkpoint
  tenancyctl erase <id> --abort REASON  never resume this job
  tenancyctl erase --resume-all         retry every interrupted job`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resumeAll != (len(args) == 0) {
				return errors.New("pass either a tenant id or --resume-all")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				switch {
				case resumeAll:
					n, err := a.erasure.ResumePending(ctx)
					if err != nil {
						return err
					}
					return printJSON(out, map[string]int{"completed": n})
				case status:
					job, err := a.erasure.Status(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(out, job)
				case abort != "":
					job, err := a.erasure.Abort(ctx, args[0], abort)
					if err != nil {
						return err
					}
					return printJSON(out, job)
				}

				job, err := a.erasure.RunFor(ctx, args[0], operator(requestedBy))
				if perr := printJSON(out, job); perr != nil && err == nil {
					err = perr
				}
				status := ux.NewPrinter(cmd.ErrOrStderr())
				if err != nil {
					status.Failure("erasure stopped, last completed step %d: %v", job.LastCompletedStep, err)
					return err
				}
				status.Success("tenant %s erased", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "who asked for the erasure (default cli:$USER)")
	cmd.Flags().BoolVar(&status, "status", false, "print the job checkpoint and exit")
	cmd.Flags().StringVar(&abort, "abort", "", "abort the job with this reason")
	cmd.Flags().BoolVar(&resumeAll, "resume-all", false, "resume every failed or interrupted job")
	cmd.MarkFlagsMutuallyExclusive("status", "abort", "resume-all")
	return cmd
}

// =============================================================================
// export
// =============================================================================

func (c *cli) exportCmd() *cobra.Command {
	var (
		requestedBy string
		list        bool
		jobID       string
	)
	cmd := &cobra.Command{
		Use:   "export <tenant-id>",
		Short: "Export a tenant's data for the tenant, or list its exports",
		Long: `export packages the tenant namespace into the backup store and records
the request and result in the audit chain. The tenant is not changed.

  tenancyctl export <id>               run an export and wait for it
  tenancyctl export <id> --list        list every export of the tenant
  tenancyctl export <id> --job JOB_ID  show one export`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				switch {
				case list:
					jobs, err := a.exports.List(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(out, jobs)
				case jobID != "":
					job, err := a.exports.Get(ctx, args[0], jobID)
					if err != nil {
						return err
					}
					return printJSON(out, job)
				}

				job, err := a.exports.Export(ctx, args[0], operator(requestedBy))
				if job.JobID != "" {
					if perr := printJSON(out, job); perr != nil && err == nil {
						err = perr
					}
				}
				status := ux.NewPrinter(cmd.ErrOrStderr())
				if err != nil {
					status.Failure("export failed: %v", err)
					return err
				}
				status.Success("tenant %s exported to %s", args[0], job.Package.URI)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "who asked for the export (default cli:$USER)")
	cmd.Flags().BoolVar(&list, "list", false, "list the tenant's exports")
	cmd.Flags().StringVar(&jobID, "job", "", "show one export job")
	cmd.MarkFlagsMutuallyExclusive("list", "job")
	return cmd
}

// =============================================================================
// detect
// =============================================================================

type detectOutput struct {
	TenantID     string                 `json:"tenant_id"`
	ResourceType datatypes.ResourceType `json:"resource_type"`
	Date         string                 `json:"date"`
	Observed     float64                `json:"observed"`
	ZScore       string                 `json:"z_score,omitempty"`
	WindowSize   int                    `json:"window_size"`
	Anomaly      bool                   `json:"anomaly"`
}

func (c *cli) detectCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "detect [tenant-id]",
		Short: "Score today's spend against the trailing window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all != (len(args) == 0) {
				return errors.New("pass either a tenant id or --all")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if all {
					n, err := a.anomalies.ScanAll(ctx, a.tenants)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]int{"anomalies": n})
				}
				results, err := a.anomalies.Scan(ctx, args[0])
				if err != nil {
					return err
				}
				out := make([]detectOutput, 0, len(results))
				for _, r := range results {
					out = append(out, detectOutput{
						TenantID:     r.TenantID,
						ResourceType: r.ResourceType,
						Date:         r.Date.Format("2006-01-02"),
						Observed:     r.Observed,
						ZScore:       anomaly.FormatZ(r.ZScore),
						WindowSize:   r.WindowSize,
						Anomaly:      r.Anomaly,
					})
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "scan every active tenant and audit what is flagged")

	record := &cobra.Command{
		Use:   "record <tenant-id> <resource> <YYYY-MM-DD> <amount>",
		Short: "Write one day of cost to InfluxDB",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := time.Parse("2006-01-02", args[2])
			if err != nil {
				return fmt.Errorf("date: %w", err)
			}
			amount, err := decimal.NewFromString(args[3])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.costs == nil {
					return errors.New("influx is not configured")
				}
				return a.costs.RecordCost(ctx, datatypes.CostRecord{
					TenantID:     args[0],
					ResourceType: datatypes.ResourceType(args[1]),
					Date:         date,
					Amount:       amount,
				})
			})
		},
	}
	cmd.AddCommand(record)
	return cmd
}

// =============================================================================
// retention
// =============================================================================

func (c *cli) retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect policies and run enforcement",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one enforcement sweep over every live tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.enforcer == nil {
					return errors.New("retention enforcement needs postgres")
				}
				report, err := a.enforcer.RunOnce(ctx)
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
					err = perr
				}
				if err == nil && len(report.Failures) > 0 {
					status := ux.NewPrinter(cmd.ErrOrStderr())
					for _, f := range report.Failures {
						status.Warning("%s: %s", f.TenantID, f.Error)
					}
					err = fmt.Errorf("retention failed for %d tenants", len(report.Failures))
				}
				return err
			})
		},
	}

	var category string
	get := &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show the effective policy and where it came from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				policy, source, err := a.retention.GetPolicy(ctx, args[0], datatypes.DataCategory(category))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"policy": policy, "source": source})
			})
		},
	}
	get.Flags().StringVar(&category, "category", "", "data category, empty for the tenant level")

	var (
		setCategory string
		days, grace int
		hard        bool
		actor       string
	)
	set := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Store a new policy version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.tenants.Get(ctx, args[0]); err != nil {
					return err
				}
				p, err := a.retention.SetPolicy(ctx, datatypes.RetentionPolicy{
					TenantID:           args[0],
					Category:           datatypes.DataCategory(setCategory),
					RetentionDays:      days,
					GraceDays:          grace,
					HardDeleteEnforced: hard,
				}, operator(actor))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	set.Flags().StringVar(&setCategory, "category", "", "data category, empty for the tenant level")
	set.Flags().IntVar(&days, "days", 0, "retention period in days")
	set.Flags().IntVar(&grace, "grace", 30, "soft-delete grace period in days")
	set.Flags().BoolVar(&hard, "hard-delete", true, "hard-delete records once the grace period ends")
	set.Flags().StringVar(&actor, "actor", "", "actor recorded in the audit chain (default cli:$USER)")
	_ = set.MarkFlagRequired("days")

	cmd.AddCommand(run, get, set)
	return cmd
}
