// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
)

// RecordSource lists and removes tenant records subject to retention.
type RecordSource interface {
	// ListRetained returns the records of category held for tenantID,
	// including soft-deleted ones.
	ListRetained(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetainedRecord, error)

	// SoftDelete hides records from normal access. Returns rows affected.
	SoftDelete(ctx context.Context, tenantID string, records []datatypes.RetainedRecord, at time.Time) (int64, error)

	// HardDelete removes records physically. Returns rows affected.
	HardDelete(ctx context.Context, tenantID string, records []datatypes.RetainedRecord) (int64, error)
}

// TenantLister returns the tenants to enforce.
type TenantLister interface {
	List(ctx context.Context) ([]datatypes.Tenant, error)
}

// IntegrityGate reports whether destructive work must stop. It returns an
// error wrapping ErrChainIntegrityViolation while the audit chain is
// known to be broken.
type IntegrityGate interface {
	Check() error
}

// EnforcerConfig holds configuration for the enforcement job.
//
// # Fields
//
//   - Concurrency: Tenants processed in parallel. Default: 4.
//   - TenantsPerSecond: Rate at which tenants are started. Default: 10.
//   - Actor: Actor recorded in audit entries. Default: "retention-enforcer".
//   - Sanity: Clock bounds checked before each run.
//   - Gate: Integrity latch checked before each run and each tenant. Nil
//     never halts.
type EnforcerConfig struct {
	Concurrency      int
	TenantsPerSecond float64
	Actor            string
	Sanity           clock.SanityConfig
	Gate             IntegrityGate
}

// DefaultEnforcerConfig returns the production defaults.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		Concurrency:      4,
		TenantsPerSecond: 10,
		Actor:            "retention-enforcer",
		Sanity:           clock.DefaultSanityConfig(),
	}
}

// TenantFailure records why one tenant could not be enforced.
type TenantFailure struct {
	TenantID string `json:"tenant_id"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error"`
}

// Report summarizes one enforcement run.
type Report struct {
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	AsOf           time.Time       `json:"as_of"`
	TenantsScanned int             `json:"tenants_scanned"`
	RecordsScanned int64           `json:"records_scanned"`
	SoftDeleted    int64           `json:"soft_deleted"`
	HardDeleted    int64           `json:"hard_deleted"`
	Failures       []TenantFailure `json:"failures,omitempty"`
}

// DurationMs returns how long the run took.
func (r Report) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Enforcer acts on retention decisions for every live tenant.
//
// # Description
//
// For each ACTIVE or SUSPENDED tenant and each category, the enforcer lists
// retained records, evaluates them with the Engine, soft-deletes records
// inside their grace period and hard-deletes records past it. Every applied
// batch is recorded in the audit chain. A failing tenant does not stop the
// run; it is reported in Report.Failures.
//
// # Thread Safety
//
// RunOnce may be called concurrently, although the scheduler never does.
type Enforcer struct {
	engine  *Engine
	source  RecordSource
	tenants TenantLister
	audit   AuditAppender
	checker *clock.Checker
	limiter *rate.Limiter
	config  EnforcerConfig
	metrics *observability.Metrics
}

// NewEnforcer creates an Enforcer. metrics may be nil.
func NewEnforcer(engine *Engine, source RecordSource, tenants TenantLister, config EnforcerConfig, metrics *observability.Metrics) *Enforcer {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Actor == "" {
		config.Actor = "retention-enforcer"
	}
	limit := rate.Inf
	burst := 1
	if config.TenantsPerSecond > 0 {
		limit = rate.Limit(config.TenantsPerSecond)
		burst = config.Concurrency
	}
	return &Enforcer{
		engine:  engine,
		source:  source,
		tenants: tenants,
		audit:   engine.audit,
		checker: clock.NewChecker(engine.clock, config.Sanity),
		limiter: rate.NewLimiter(limit, burst),
		config:  config,
		metrics: metrics,
	}
}

// RunOnce performs one enforcement pass.
//
// # Outputs
//
//   - Report: Totals and per-tenant failures.
//   - error: Integrity halt or clock sanity failure (nothing is deleted),
//     tenant listing failure, or context cancellation. A halt raised
//     mid-run stops further tenants and is returned with the partial
//     report.
func (e *Enforcer) RunOnce(ctx context.Context) (Report, error) {
	if err := e.gateErr(); err != nil {
		slog.Error("tenancy.retention.halted", "error", err)
		return Report{}, fmt.Errorf("retention: refusing to enforce: %w", err)
	}
	asOf, err := e.checker.Check()
	if err != nil {
		slog.Error("tenancy.retention.clock_rejected", "error", err)
		return Report{}, fmt.Errorf("retention: refusing to enforce: %w", err)
	}

	report := Report{StartTime: time.Now(), AsOf: asOf}

	tenants, err := e.tenants.List(ctx)
	if err != nil {
		return report, fmt.Errorf("retention: list tenants: %w", err)
	}

	var (
		mu      sync.Mutex
		haltErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for _, t := range tenants {
		if t.Status != datatypes.StatusActive && t.Status != datatypes.StatusSuspended {
			continue
		}
		if haltErr = e.gateErr(); haltErr != nil {
			break
		}
		if err := e.limiter.Wait(gctx); err != nil {
			break
		}
		tenantID := t.ID
		g.Go(func() error {
			res := e.enforceTenant(gctx, tenantID, asOf)
			mu.Lock()
			report.TenantsScanned++
			report.RecordsScanned += res.scanned
			report.SoftDeleted += res.soft
			report.HardDeleted += res.hard
			report.Failures = append(report.Failures, res.failures...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.EndTime = time.Now()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if haltErr != nil {
		slog.Error("tenancy.retention.halted", "error", haltErr, "tenants_scanned", report.TenantsScanned)
		return report, fmt.Errorf("retention: stopped: %w", haltErr)
	}

	slog.Info("tenancy.retention.run_completed",
		"tenants_scanned", report.TenantsScanned,
		"records_scanned", report.RecordsScanned,
		"soft_deleted", report.SoftDeleted,
		"hard_deleted", report.HardDeleted,
		"failures", len(report.Failures),
		"duration_ms", report.DurationMs(),
	)
	return report, nil
}

func (e *Enforcer) gateErr() error {
	if e.config.Gate == nil {
		return nil
	}
	return e.config.Gate.Check()
}

type tenantResult struct {
	scanned  int64
	soft     int64
	hard     int64
	failures []TenantFailure
}

func (e *Enforcer) enforceTenant(ctx context.Context, tenantID string, asOf time.Time) tenantResult {
	var res tenantResult
	for _, category := range datatypes.AllCategories {
		if ctx.Err() != nil {
			return res
		}
		scanned, soft, hard, err := e.enforceCategory(ctx, tenantID, category, asOf)
		res.scanned += scanned
		res.soft += soft
		res.hard += hard
		if err != nil {
			slog.Warn("tenancy.retention.category_failed",
				"tenant_id", tenantID, "category", category, "error", err)
			res.failures = append(res.failures, TenantFailure{
				TenantID: tenantID,
				Category: string(category),
				Error:    err.Error(),
			})
		}
	}
	return res
}

func (e *Enforcer) enforceCategory(ctx context.Context, tenantID string, category datatypes.DataCategory, asOf time.Time) (scanned, soft, hard int64, err error) {
	records, err := e.source.ListRetained(ctx, tenantID, category)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("list records: %w", err)
	}
	if len(records) == 0 {
		return 0, 0, 0, nil
	}
	scanned = int64(len(records))

	policy, source, err := e.engine.Resolve(ctx, tenantID, category)
	if err != nil {
		return scanned, 0, 0, err
	}

	var toSoft, toHard []datatypes.RetainedRecord
	for _, r := range records {
		switch Decide(policy, r.CreatedAt, asOf).Action {
		case datatypes.RetentionSoftDelete:
			if r.SoftDeletedAt == nil {
				toSoft = append(toSoft, r)
			}
		case datatypes.RetentionHardDelete:
			toHard = append(toHard, r)
		}
	}

	if len(toSoft) > 0 {
		n, err := e.source.SoftDelete(ctx, tenantID, toSoft, asOf)
		if err != nil {
			return scanned, 0, 0, fmt.Errorf("soft delete: %w", err)
		}
		soft = n
		if err := e.record(ctx, tenantID, category, datatypes.ActionRetentionSoftDelete, datatypes.RetentionSoftDelete, n, policy, source, asOf); err != nil {
			return scanned, soft, 0, err
		}
	}

	if len(toHard) > 0 {
		n, err := e.source.HardDelete(ctx, tenantID, toHard)
		if err != nil {
			return scanned, soft, 0, fmt.Errorf("hard delete: %w", err)
		}
		hard = n
		if err := e.record(ctx, tenantID, category, datatypes.ActionRetentionHardDelete, datatypes.RetentionHardDelete, n, policy, source, asOf); err != nil {
			return scanned, soft, hard, err
		}
	}
	return scanned, soft, hard, nil
}

func (e *Enforcer) record(ctx context.Context, tenantID string, category datatypes.DataCategory, action string, kind datatypes.RetentionAction, count int64, policy datatypes.RetentionPolicy, source datatypes.PolicySource, asOf time.Time) error {
	e.metrics.RecordRetentionAction(string(category), string(kind), int(count))

	_, err := e.audit.Append(ctx, &tenantID, e.config.Actor, action, map[string]any{
		"category":       string(category),
		"records":        count,
		"policy_source":  string(source),
		"policy_version": policy.Version,
		"retention_days": policy.RetentionDays,
		"grace_days":     policy.GraceDays,
		"as_of":          asOf.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
