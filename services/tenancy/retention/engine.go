// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention evaluates data-age policies per tenant and category and
// drives the periodic enforcement job that acts on the decisions.
//
// # Description
//
// Policy resolution order is: the tenant's override for the category, the
// tenant-level policy, the platform default. A record becomes eligible for
// deletion RetentionDays after it was created. Until GraceDays after that
// it is only soft-deleted; hard deletion happens after the grace period and
// only if the policy enforces it.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/keylock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

// PolicyStore persists versioned retention policies. SavePolicy appends a
// new version and marks the previous one superseded.
type PolicyStore interface {
	CurrentPolicy(ctx context.Context, tenantID string, category datatypes.DataCategory) (datatypes.RetentionPolicy, bool, error)
	SavePolicy(ctx context.Context, p datatypes.RetentionPolicy) error
	PolicyHistory(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetentionPolicy, error)
}

// AuditAppender records policy changes and enforcement actions.
type AuditAppender interface {
	Append(ctx context.Context, tenantID *string, actor, action string, payload map[string]any) (datatypes.AuditEntry, error)
}

// =============================================================================
// Platform defaults
// =============================================================================

// Defaults are the platform-level policies used when a tenant has none.
type Defaults struct {
	Fallback   datatypes.RetentionPolicy                            `yaml:"fallback"`
	Categories map[datatypes.DataCategory]datatypes.RetentionPolicy `yaml:"categories"`
}

// DefaultPlatformDefaults returns the built-in platform policies.
//
// # Description
//
// transactional 90 days, log 365, user_activity 180, uploaded_file 365,
// pii 365, backup 90, audit_log 2555 (seven years, never hard-deleted).
// Grace period is 30 days throughout.
func DefaultPlatformDefaults() Defaults {
	mk := func(days int, hard bool) datatypes.RetentionPolicy {
		return datatypes.RetentionPolicy{RetentionDays: days, GraceDays: 30, HardDeleteEnforced: hard}
	}
	return Defaults{
		Fallback: mk(365, true),
		Categories: map[datatypes.DataCategory]datatypes.RetentionPolicy{
			datatypes.CategoryTransactional: mk(90, true),
			datatypes.CategoryLog:           mk(365, true),
			datatypes.CategoryUserActivity:  mk(180, true),
			datatypes.CategoryUploadedFile:  mk(365, true),
			datatypes.CategoryPII:           mk(365, true),
			datatypes.CategoryBackup:        mk(90, true),
			datatypes.CategoryAuditLog:      mk(2555, false),
		},
	}
}

// For returns the platform policy for category.
func (d Defaults) For(category datatypes.DataCategory) datatypes.RetentionPolicy {
	p, ok := d.Categories[category]
	if !ok {
		p = d.Fallback
	}
	p.Category = category
	return p
}

// =============================================================================
// Engine
// =============================================================================

// Engine resolves policies and evaluates retention decisions.
//
// # Thread Safety
//
// Safe for concurrent use. Platform defaults can be swapped at runtime with
// SetDefaults.
type Engine struct {
	store    PolicyStore
	audit    AuditAppender
	clock    ports.Clock
	validate *validator.Validate
	defaults atomic.Pointer[Defaults]

	// locks serializes SetPolicy per tenant and category so versions stay
	// unique.
	locks keylock.Map
}

// NewEngine creates an Engine with the given platform defaults.
func NewEngine(store PolicyStore, audit AuditAppender, clk ports.Clock, defaults Defaults) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	e := &Engine{
		store:    store,
		audit:    audit,
		clock:    clk,
		validate: validator.New(),
	}
	e.defaults.Store(&defaults)
	return e
}

// SetDefaults replaces the platform defaults.
func (e *Engine) SetDefaults(d Defaults) {
	e.defaults.Store(&d)
	slog.Info("tenancy.retention.defaults_reloaded", "categories", len(d.Categories))
}

// Defaults returns the current platform defaults.
func (e *Engine) Defaults() Defaults {
	return *e.defaults.Load()
}

// Resolve returns the effective policy for tenantID and category, and the
// level it came from.
func (e *Engine) Resolve(ctx context.Context, tenantID string, category datatypes.DataCategory) (datatypes.RetentionPolicy, datatypes.PolicySource, error) {
	if category != datatypes.CategoryNone {
		p, ok, err := e.store.CurrentPolicy(ctx, tenantID, category)
		if err != nil {
			return datatypes.RetentionPolicy{}, "", fmt.Errorf("retention: load %s policy for %s: %w", category, tenantID, err)
		}
		if ok {
			return p, datatypes.PolicyFromCategory, nil
		}
	}

	p, ok, err := e.store.CurrentPolicy(ctx, tenantID, datatypes.CategoryNone)
	if err != nil {
		return datatypes.RetentionPolicy{}, "", fmt.Errorf("retention: load tenant policy for %s: %w", tenantID, err)
	}
	if ok {
		return p, datatypes.PolicyFromTenant, nil
	}

	return e.Defaults().For(category), datatypes.PolicyFromPlatform, nil
}

// Evaluate decides what to do with a record of category created at
// dataCreatedAt, as of asOf.
//
// # Description
//
// Reads policies but mutates nothing. Callers that act on the decision must
// record the action through the audit chain.
//
// # Outputs
//
//   - datatypes.RetentionDecision: none, soft_delete or hard_delete with the
//     eligibility and hard-delete instants.
//   - error: Policy store failure.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, category datatypes.DataCategory, dataCreatedAt, asOf time.Time) (datatypes.RetentionDecision, error) {
	policy, source, err := e.Resolve(ctx, tenantID, category)
	if err != nil {
		return datatypes.RetentionDecision{}, err
	}
	d := Decide(policy, dataCreatedAt, asOf)
	d.Source = source
	return d, nil
}

// Decide applies policy to a record created at createdAt, as of asOf.
func Decide(policy datatypes.RetentionPolicy, createdAt, asOf time.Time) datatypes.RetentionDecision {
	eligibleAt := createdAt.Add(policy.RetentionPeriod())
	hardAt := eligibleAt.Add(policy.GracePeriod())

	d := datatypes.RetentionDecision{
		Action:       datatypes.RetentionNone,
		EligibleAt:   eligibleAt,
		HardDeleteAt: hardAt,
		Policy:       policy,
	}
	switch {
	case asOf.Before(eligibleAt):
	case !policy.HardDeleteEnforced || asOf.Before(hardAt):
		d.Action = datatypes.RetentionSoftDelete
	default:
		d.Action = datatypes.RetentionHardDelete
	}
	return d
}

// SetPolicy stores a new version of a tenant policy and audits the change.
//
// # Description
//
// The previous version for the same tenant and category is superseded, not
// deleted. Category CategoryNone sets the tenant-level policy. Concurrent
// sets for the same tenant and category are serialized and receive
// consecutive versions.
//
// # Outputs
//
//   - datatypes.RetentionPolicy: The stored version.
//   - error: Validation failure, store failure, or audit failure. An audit
//     failure is returned after the policy was stored.
func (e *Engine) SetPolicy(ctx context.Context, p datatypes.RetentionPolicy, actor string) (datatypes.RetentionPolicy, error) {
	if p.TenantID == "" {
		return datatypes.RetentionPolicy{}, fmt.Errorf("retention: tenant id is required")
	}
	if !p.Category.Valid() {
		return datatypes.RetentionPolicy{}, fmt.Errorf("retention: unknown category %q", p.Category)
	}
	if err := e.validate.Struct(p); err != nil {
		return datatypes.RetentionPolicy{}, fmt.Errorf("retention: invalid policy: %w", err)
	}

	unlock := e.locks.Lock(p.TenantID + "/" + string(p.Category))
	defer unlock()

	current, ok, err := e.store.CurrentPolicy(ctx, p.TenantID, p.Category)
	if err != nil {
		return datatypes.RetentionPolicy{}, fmt.Errorf("retention: load current policy: %w", err)
	}
	p.Version = 1
	if ok {
		p.Version = current.Version + 1
	}
	p.CreatedAt = e.clock.Now()
	p.SupersededAt = nil
	p.UpdatedBy = actor

	if err := e.store.SavePolicy(ctx, p); err != nil {
		return datatypes.RetentionPolicy{}, fmt.Errorf("retention: save policy: %w", err)
	}

	if _, err := e.audit.Append(ctx, &p.TenantID, actor, datatypes.ActionRetentionPolicySet, map[string]any{
		"category":             string(p.Category),
		"version":              p.Version,
		"retention_days":       p.RetentionDays,
		"grace_days":           p.GraceDays,
		"hard_delete_enforced": p.HardDeleteEnforced,
	}); err != nil {
		slog.Error("tenancy.retention.policy_audit_failed",
			"tenant_id", p.TenantID, "category", p.Category, "version", p.Version, "error", err)
		return p, fmt.Errorf("retention: audit policy change: %w", err)
	}

	slog.Info("tenancy.retention.policy_set",
		"tenant_id", p.TenantID,
		"category", p.Category,
		"version", p.Version,
		"actor", actor,
	)
	return p, nil
}

// GetPolicy returns the effective policy and its source.
func (e *Engine) GetPolicy(ctx context.Context, tenantID string, category datatypes.DataCategory) (datatypes.RetentionPolicy, datatypes.PolicySource, error) {
	return e.Resolve(ctx, tenantID, category)
}

// PolicyHistory returns every stored version, oldest first.
func (e *Engine) PolicyHistory(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetentionPolicy, error) {
	return e.store.PolicyHistory(ctx, tenantID, category)
}
