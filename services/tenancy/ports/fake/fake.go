// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fake provides in-memory port implementations with call counters
// and failure injection, for tests and the local server mode.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// Failures holds one-shot or sticky errors keyed by operation name.
type Failures struct {
	mu     sync.Mutex
	once   map[string]error
	sticky map[string]error
}

// FailOnce makes the next call to op return err.
func (f *Failures) FailOnce(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.once == nil {
		f.once = make(map[string]error)
	}
	f.once[op] = err
}

// FailAlways makes every call to op return err until Clear.
func (f *Failures) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sticky == nil {
		f.sticky = make(map[string]error)
	}
	f.sticky[op] = err
}

// Clear removes all injected failures.
func (f *Failures) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once = nil
	f.sticky = nil
}

func (f *Failures) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.once[op]; ok {
		delete(f.once, op)
		return err
	}
	return f.sticky[op]
}

// Counter counts calls by operation name.
type Counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *Counter) inc(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[op]++
}

// Calls returns how many times op was invoked, failed calls included.
func (c *Counter) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Operation names used by Calls and the Fail helpers.
const (
	OpCreateNamespace = "create_namespace"
	OpDropNamespace   = "drop_namespace"
	OpCascadeDelete   = "cascade_delete"
	OpExportTenant    = "export_tenant"
	OpPurgeTenant     = "purge_tenant"
)

// =============================================================================
// Storage backend
// =============================================================================

// Backend is an in-memory ports.StorageBackend. Rows holds the number of
// tenant rows per namespace; CascadeDeleteTenantData zeroes it unless
// Leftover is set for the namespace.
type Backend struct {
	Counter
	Failures

	mu         sync.Mutex
	namespaces map[string]bool
	rows       map[string]int64
	leftover   map[string]int64
}

// NewBackend creates an empty Backend.
func NewBackend() *Backend {
	return &Backend{
		namespaces: make(map[string]bool),
		rows:       make(map[string]int64),
		leftover:   make(map[string]int64),
	}
}

func (b *Backend) CreateNamespace(ctx context.Context, namespace string) error {
	b.inc(OpCreateNamespace)
	if err := b.take(OpCreateNamespace); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.namespaces[namespace] = true
	return nil
}

func (b *Backend) DropNamespace(ctx context.Context, namespace string) error {
	b.inc(OpDropNamespace)
	if err := b.take(OpDropNamespace); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.namespaces, namespace)
	delete(b.rows, namespace)
	return nil
}

func (b *Backend) CascadeDeleteTenantData(ctx context.Context, tenantID, namespace string) (int64, error) {
	b.inc(OpCascadeDelete)
	if err := b.take(OpCascadeDelete); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.leftover[namespace]
	b.rows[namespace] = remaining
	return remaining, nil
}

// Exists reports whether namespace is currently materialized.
func (b *Backend) Exists(namespace string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.namespaces[namespace]
}

// SetRows seeds the row count of namespace.
func (b *Backend) SetRows(namespace string, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[namespace] = n
}

// Rows returns the row count of namespace.
func (b *Backend) Rows(namespace string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows[namespace]
}

// SetLeftover makes cascade deletes on namespace report n remaining rows.
func (b *Backend) SetLeftover(namespace string, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leftover[namespace] = n
}

// =============================================================================
// Backup and cache ports
// =============================================================================

// Backup is an in-memory ports.BackupPort returning deterministic refs.
type Backup struct {
	Counter
	Failures
}

func (b *Backup) ExportTenant(ctx context.Context, tenantID, namespace string) (datatypes.PackageRef, error) {
	b.inc(OpExportTenant)
	if err := b.take(OpExportTenant); err != nil {
		return datatypes.PackageRef{}, err
	}
	sum := sha256.Sum256([]byte(tenantID + "|" + namespace))
	return datatypes.PackageRef{
		URI:       fmt.Sprintf("mem://exports/%s.tar.gz", tenantID),
		Checksum:  hex.EncodeToString(sum[:]),
		SizeBytes: 1024,
	}, nil
}

// Cache is an in-memory ports.CachePort.
type Cache struct {
	Counter
	Failures

	mu     sync.Mutex
	purged []string
}

func (c *Cache) PurgeTenant(ctx context.Context, tenantID string) error {
	c.inc(OpPurgeTenant)
	if err := c.take(OpPurgeTenant); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = append(c.purged, tenantID)
	return nil
}

// Purged returns the tenant ids purged so far, in call order.
func (c *Cache) Purged() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.purged...)
}
