// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle implements the tenant state machine.
//
// # Description
//
// Tenants move PENDING → PROVISIONING → ACTIVE ⇄ SUSPENDED → DEPROVISIONING
// → DELETED. Each transition validates against the table, materializes or
// destroys the tenant namespace where the edge requires it, persists the
// new status and appends an audit entry, as one unit: on any failure the
// tenant record is left in its prior state.
//
// # Thread Safety
//
// Transitions for one tenant are serialized by a per-tenant lock.
// Different tenants proceed independently.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTenancy/pkg/validation"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/keylock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

var tracer = otel.Tracer("aleutian.tenancy.lifecycle")

// Store persists the tenant registry. DeleteTenant is used only to undo a
// registration whose audit entry could not be written; lifecycle-ended
// tenants stay as DELETED tombstones.
type Store interface {
	GetTenant(ctx context.Context, id string) (datatypes.Tenant, bool, error)
	GetTenantBySlug(ctx context.Context, slug string) (datatypes.Tenant, bool, error)
	PutTenant(ctx context.Context, t datatypes.Tenant) error
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]datatypes.Tenant, error)
}

// SchemaManager materializes and destroys tenant namespaces.
type SchemaManager interface {
	Create(ctx context.Context, slug string) (datatypes.SchemaHandle, error)
	Resolve(ctx context.Context, slug string) (datatypes.SchemaHandle, error)
	Drop(ctx context.Context, handle datatypes.SchemaHandle) error
}

// AuditAppender records state changes.
type AuditAppender interface {
	Append(ctx context.Context, tenantID *string, actor, action string, payload map[string]any) (datatypes.AuditEntry, error)
}

// Service is the tenant lifecycle state machine.
type Service struct {
	store   Store
	schemas SchemaManager
	audit   AuditAppender
	clock   ports.Clock
	metrics *observability.Metrics
	locks   keylock.Map
	newID   func() string
}

// Config wires a Service. Store, Schemas and Audit are required.
type Config struct {
	Store   Store
	Schemas SchemaManager
	Audit   AuditAppender
	Clock   ports.Clock
	Metrics *observability.Metrics
}

// NewService creates a lifecycle Service.
func NewService(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		store:   cfg.Store,
		schemas: cfg.Schemas,
		audit:   cfg.Audit,
		clock:   clk,
		metrics: cfg.Metrics,
		newID:   uuid.NewString,
	}
}

// Create registers a new tenant in PENDING.
//
// # Description
//
// Validates the slug, rejects slugs already registered, persists the tenant
// and appends a tenant.created audit entry. No physical storage is touched
// until the tenant is provisioned.
//
// # Outputs
//
//   - datatypes.Tenant: The PENDING tenant.
//   - error: ErrInvalidSlug, ErrTenantExists, or a store/audit failure.
func (s *Service) Create(ctx context.Context, slug, actor string) (datatypes.Tenant, error) {
	slug, err := validation.SanitizeSlug(slug)
	if err != nil {
		return datatypes.Tenant{}, fmt.Errorf("%w: %v", datatypes.ErrInvalidSlug, err)
	}

	unlock := s.locks.Lock("slug:" + slug)
	defer unlock()

	if _, exists, err := s.store.GetTenantBySlug(ctx, slug); err != nil {
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: lookup slug %q: %w", slug, err)
	} else if exists {
		return datatypes.Tenant{}, fmt.Errorf("%w: slug %q", datatypes.ErrTenantExists, slug)
	}

	now := s.clock.Now()
	tenant := datatypes.Tenant{
		ID:        s.newID(),
		Slug:      slug,
		Status:    datatypes.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutTenant(ctx, tenant); err != nil {
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: persist tenant %q: %w", slug, err)
	}

	if _, err := s.audit.Append(ctx, &tenant.ID, actor, datatypes.ActionTenantCreated, map[string]any{
		"slug":   slug,
		"status": string(tenant.Status),
	}); err != nil {
		// An unaudited registration never happened.
		if delErr := s.store.DeleteTenant(ctx, tenant.ID); delErr != nil {
			slog.Error("tenancy.lifecycle.create_rollback_failed", "tenant_id", tenant.ID, "error", delErr)
		}
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: audit creation of %q: %w", slug, err)
	}

	slog.Info("tenancy.lifecycle.created", "tenant_id", tenant.ID, "slug", slug, "actor", actor)
	return tenant, nil
}

// Get returns the tenant with id or an error wrapping ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (datatypes.Tenant, error) {
	t, ok, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: load tenant %s: %w", id, err)
	}
	if !ok {
		return datatypes.Tenant{}, fmt.Errorf("tenant %s: %w", id, datatypes.ErrNotFound)
	}
	return t, nil
}

// GetBySlug returns the tenant with slug or an error wrapping ErrNotFound.
func (s *Service) GetBySlug(ctx context.Context, slug string) (datatypes.Tenant, error) {
	t, ok, err := s.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: load tenant %q: %w", slug, err)
	}
	if !ok {
		return datatypes.Tenant{}, fmt.Errorf("tenant %q: %w", slug, datatypes.ErrNotFound)
	}
	return t, nil
}

// List returns every tenant, tombstones included.
func (s *Service) List(ctx context.Context) ([]datatypes.Tenant, error) {
	return s.store.ListTenants(ctx)
}

// Transition moves a tenant to target.
//
// # Description
//
// Runs as one logical unit under the tenant's lock:
//  1. Validate from → target against the transition table.
//  2. PENDING → PROVISIONING creates the namespace; DEPROVISIONING → DELETED
//     drops it.
//  3. Persist the new status.
//  4. Append a tenant.transitioned audit entry with actor, from, to, reason.
//
// If step 2 fails the transition fails with ErrProvisioningFailed or
// ErrTeardownFailed and nothing is persisted. If step 4 fails the previous
// tenant record is restored.
//
// # Inputs
//
//   - tenantID: Tenant to move.
//   - target: Requested state.
//   - actor: Who requested the change.
//   - reason: Optional free text. Stored as the suspension reason when
//     target is SUSPENDED.
//
// # Outputs
//
//   - datatypes.Tenant: The updated tenant.
//   - error: *datatypes.TransitionError wrapping ErrInvalidTransition,
//     ErrProvisioningFailed or ErrTeardownFailed; ErrNotFound; or store and
//     audit failures.
func (s *Service) Transition(ctx context.Context, tenantID string, target datatypes.TenantStatus, actor, reason string) (datatypes.Tenant, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Transition",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("tenant.target", string(target)),
		),
	)
	defer span.End()

	unlock := s.locks.Lock(tenantID)
	defer unlock()

	tenant, err := s.transitionLocked(ctx, tenantID, target, actor, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return datatypes.Tenant{}, err
	}
	span.SetStatus(codes.Ok, "")
	return tenant, nil
}

func (s *Service) transitionLocked(ctx context.Context, tenantID string, target datatypes.TenantStatus, actor, reason string) (datatypes.Tenant, error) {
	prev, err := s.Get(ctx, tenantID)
	if err != nil {
		return datatypes.Tenant{}, err
	}
	from := prev.Status

	if !CanTransition(from, target) {
		s.metrics.RecordTransition(string(from), string(target), false)
		return datatypes.Tenant{}, &datatypes.TransitionError{
			TenantID: tenantID, From: from, To: target, Err: datatypes.ErrInvalidTransition,
		}
	}

	if err := s.applySchemaEffect(ctx, prev, target); err != nil {
		s.metrics.RecordTransition(string(from), string(target), false)
		slog.Warn("tenancy.lifecycle.transition_failed",
			"tenant_id", tenantID, "from", from, "to", target, "error", err)
		return datatypes.Tenant{}, err
	}

	now := s.clock.Now()
	next := prev
	next.Status = target
	next.UpdatedAt = now
	switch target {
	case datatypes.StatusActive:
		if next.ActivatedAt == nil {
			next.ActivatedAt = &now
		}
		next.SuspensionReason = ""
	case datatypes.StatusSuspended:
		next.SuspensionReason = reason
	case datatypes.StatusDeleted:
		next.DeletedAt = &now
	}

	if err := s.store.PutTenant(ctx, next); err != nil {
		s.metrics.RecordTransition(string(from), string(target), false)
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: persist %s -> %s for %s: %w", from, target, tenantID, err)
	}

	payload := map[string]any{
		"from": string(from),
		"to":   string(target),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := s.audit.Append(ctx, &tenantID, actor, datatypes.ActionTenantTransitioned, payload); err != nil {
		if restoreErr := s.store.PutTenant(ctx, prev); restoreErr != nil {
			slog.Error("tenancy.lifecycle.rollback_failed",
				"tenant_id", tenantID, "from", from, "to", target, "error", restoreErr)
			err = errors.Join(err, restoreErr)
		}
		s.metrics.RecordTransition(string(from), string(target), false)
		return datatypes.Tenant{}, fmt.Errorf("lifecycle: audit %s -> %s for %s: %w", from, target, tenantID, err)
	}

	s.metrics.RecordTransition(string(from), string(target), true)
	slog.Info("tenancy.lifecycle.transitioned",
		"tenant_id", tenantID,
		"from", from,
		"to", target,
		"actor", actor,
	)
	return next, nil
}

// applySchemaEffect performs the physical side effect an edge requires.
func (s *Service) applySchemaEffect(ctx context.Context, t datatypes.Tenant, target datatypes.TenantStatus) error {
	switch {
	case t.Status == datatypes.StatusPending && target == datatypes.StatusProvisioning:
		if _, err := s.schemas.Create(ctx, t.Slug); err != nil {
			return &datatypes.TransitionError{
				TenantID: t.ID, From: t.Status, To: target,
				Err: fmt.Errorf("%w: %w", datatypes.ErrProvisioningFailed, err),
			}
		}

	case t.Status == datatypes.StatusDeprovisioning && target == datatypes.StatusDeleted:
		handle, err := s.schemas.Resolve(ctx, t.Slug)
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil
		}
		if err == nil {
			err = s.schemas.Drop(ctx, handle)
		}
		if err != nil {
			return &datatypes.TransitionError{
				TenantID: t.ID, From: t.Status, To: target,
				Err: fmt.Errorf("%w: %w", datatypes.ErrTeardownFailed, err),
			}
		}
	}
	return nil
}

// Provision drives a PENDING tenant through PROVISIONING to ACTIVE.
//
// # Description
//
// A tenant already in PROVISIONING (an earlier Provision failed after the
// namespace was created) continues to ACTIVE.
func (s *Service) Provision(ctx context.Context, tenantID, actor string) (datatypes.Tenant, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return datatypes.Tenant{}, err
	}
	if t.Status == datatypes.StatusPending {
		if t, err = s.Transition(ctx, tenantID, datatypes.StatusProvisioning, actor, "provision"); err != nil {
			return datatypes.Tenant{}, err
		}
	}
	return s.Transition(ctx, t.ID, datatypes.StatusActive, actor, "provision")
}

// EnsureStatus transitions to target unless the tenant is already there.
// The erasure pipeline uses it to make its lifecycle steps idempotent.
func (s *Service) EnsureStatus(ctx context.Context, tenantID string, target datatypes.TenantStatus, actor, reason string) (datatypes.Tenant, bool, error) {
	unlock := s.locks.Lock(tenantID)
	t, err := s.Get(ctx, tenantID)
	unlock()
	if err != nil {
		return datatypes.Tenant{}, false, err
	}
	if t.Status == target {
		return t, false, nil
	}
	t, err = s.Transition(ctx, tenantID, target, actor, reason)
	if err != nil {
		return datatypes.Tenant{}, false, err
	}
	return t, true, nil
}
