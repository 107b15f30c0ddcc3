// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema manages the per-tenant physical namespaces.
//
// # Description
//
// Each tenant slug maps to exactly one namespace, "tenant_" followed by the
// lowercased slug with every character outside [a-z0-9] replaced by "_".
// Two slugs that map to the same namespace are rejected rather than
// suffixed. A namespace moves absent → present → dropped and a dropped
// namespace is never reused.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTenancy/pkg/validation"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/keylock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

// NamespacePrefix prefixes every tenant namespace.
const NamespacePrefix = "tenant_"

// maxNamespaceLen is the Postgres identifier limit.
const maxNamespaceLen = 63

// Store persists schema handles keyed by namespace.
type Store interface {
	GetHandle(ctx context.Context, namespace string) (datatypes.SchemaHandle, bool, error)
	PutHandle(ctx context.Context, handle datatypes.SchemaHandle) error
	ListHandles(ctx context.Context) ([]datatypes.SchemaHandle, error)
}

// Manager creates, resolves and drops tenant namespaces.
//
// # Thread Safety
//
// Operations on the same namespace are serialized; different namespaces
// proceed independently.
type Manager struct {
	backend ports.StorageBackend
	store   Store
	clock   ports.Clock
	locks   keylock.Map
}

// NewManager creates a Manager. A nil clk uses the system clock.
func NewManager(backend ports.StorageBackend, store Store, clk ports.Clock) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{backend: backend, store: store, clock: clk}
}

// NamespaceFor derives the namespace name for slug.
//
// # Outputs
//
//   - string: "tenant_" + sanitized slug.
//   - error: Wraps datatypes.ErrInvalidSlug if the slug fails validation.
func NamespaceFor(slug string) (string, error) {
	if err := validation.ValidateSlug(slug); err != nil {
		return "", fmt.Errorf("%w: %v", datatypes.ErrInvalidSlug, err)
	}

	var b strings.Builder
	b.WriteString(NamespacePrefix)
	for _, r := range strings.ToLower(slug) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	ns := b.String()
	if len(ns) > maxNamespaceLen {
		return "", fmt.Errorf("%w: namespace %q exceeds %d bytes", datatypes.ErrInvalidSlug, ns, maxNamespaceLen)
	}
	return ns, nil
}

// Create materializes the namespace for slug.
//
// # Description
//
// Idempotent while the handle is present: the existing handle is returned
// without touching the backend. A handle left absent by an earlier failed
// attempt is retried.
//
// # Outputs
//
//   - datatypes.SchemaHandle: The present handle.
//   - error: ErrSlugCollision, ErrSchemaGone, ErrInvalidSlug (all as
//     *datatypes.SchemaError), or the wrapped backend error.
func (m *Manager) Create(ctx context.Context, slug string) (datatypes.SchemaHandle, error) {
	ns, err := NamespaceFor(slug)
	if err != nil {
		return datatypes.SchemaHandle{}, &datatypes.SchemaError{Slug: slug, Err: err}
	}

	unlock := m.locks.Lock(ns)
	defer unlock()

	existing, ok, err := m.store.GetHandle(ctx, ns)
	if err != nil {
		return datatypes.SchemaHandle{}, fmt.Errorf("schema: load handle %s: %w", ns, err)
	}
	if ok {
		if existing.Slug != slug {
			return datatypes.SchemaHandle{}, &datatypes.SchemaError{Slug: slug, Namespace: ns, Err: datatypes.ErrSlugCollision}
		}
		switch existing.State {
		case datatypes.SchemaPresent:
			return existing, nil
		case datatypes.SchemaDropped:
			return datatypes.SchemaHandle{}, &datatypes.SchemaError{Slug: slug, Namespace: ns, Err: datatypes.ErrSchemaGone}
		}
	}

	// Claim the name before touching the backend so a concurrent slug that
	// sanitizes to the same namespace sees the collision.
	handle := datatypes.SchemaHandle{Slug: slug, Namespace: ns, State: datatypes.SchemaAbsent}
	if !ok {
		if err := m.store.PutHandle(ctx, handle); err != nil {
			return datatypes.SchemaHandle{}, fmt.Errorf("schema: claim %s: %w", ns, err)
		}
	}

	if err := m.backend.CreateNamespace(ctx, ns); err != nil {
		slog.Warn("tenancy.schema.create_failed", "namespace", ns, "slug", slug, "error", err)
		return datatypes.SchemaHandle{}, fmt.Errorf("schema: create namespace %s: %w", ns, err)
	}

	handle.State = datatypes.SchemaPresent
	handle.CreatedAt = m.clock.Now()
	if err := m.store.PutHandle(ctx, handle); err != nil {
		return datatypes.SchemaHandle{}, fmt.Errorf("schema: record %s: %w", ns, err)
	}

	slog.Info("tenancy.schema.created", "namespace", ns, "slug", slug)
	return handle, nil
}

// Resolve returns the handle for slug or an error wrapping ErrNotFound.
// A dropped handle is returned as is; callers inspect State.
func (m *Manager) Resolve(ctx context.Context, slug string) (datatypes.SchemaHandle, error) {
	ns, err := NamespaceFor(slug)
	if err != nil {
		return datatypes.SchemaHandle{}, &datatypes.SchemaError{Slug: slug, Err: err}
	}

	h, ok, err := m.store.GetHandle(ctx, ns)
	if err != nil {
		return datatypes.SchemaHandle{}, fmt.Errorf("schema: load handle %s: %w", ns, err)
	}
	if !ok || h.Slug != slug {
		return datatypes.SchemaHandle{}, &datatypes.SchemaError{Slug: slug, Namespace: ns, Err: datatypes.ErrNotFound}
	}
	return h, nil
}

// Drop removes the namespace and all data in it.
//
// # Description
//
// Irreversible. Dropping an already dropped handle is a no-op so pipeline
// retries are safe. An absent handle (never materialized) is dropped on the
// backend anyway, since a crashed create may have left the namespace behind.
func (m *Manager) Drop(ctx context.Context, handle datatypes.SchemaHandle) error {
	ns := handle.Namespace
	if ns == "" {
		var err error
		if ns, err = NamespaceFor(handle.Slug); err != nil {
			return &datatypes.SchemaError{Slug: handle.Slug, Err: err}
		}
	}

	unlock := m.locks.Lock(ns)
	defer unlock()

	current, ok, err := m.store.GetHandle(ctx, ns)
	if err != nil {
		return fmt.Errorf("schema: load handle %s: %w", ns, err)
	}
	if !ok {
		return &datatypes.SchemaError{Slug: handle.Slug, Namespace: ns, Err: datatypes.ErrNotFound}
	}
	if current.State == datatypes.SchemaDropped {
		return nil
	}

	if err := m.backend.DropNamespace(ctx, ns); err != nil {
		slog.Warn("tenancy.schema.drop_failed", "namespace", ns, "error", err)
		return fmt.Errorf("schema: drop namespace %s: %w", ns, err)
	}

	now := m.clock.Now()
	current.State = datatypes.SchemaDropped
	current.DroppedAt = &now
	if err := m.store.PutHandle(ctx, current); err != nil {
		return fmt.Errorf("schema: record drop of %s: %w", ns, err)
	}

	slog.Info("tenancy.schema.dropped", "namespace", ns, "slug", current.Slug)
	return nil
}

// List returns every known handle, including dropped ones.
func (m *Manager) List(ctx context.Context) ([]datatypes.SchemaHandle, error) {
	return m.store.ListHandles(ctx)
}
