// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory provides an in-process implementation of every tenancy
// registry: tenants, schema handles, the audit sequence, retention policies
// and erasure jobs. It backs tests and the --in-memory server mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

type policyKey struct {
	tenantID string
	category datatypes.DataCategory
}

// Store holds all registries behind one RWMutex.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Scan reads from a copy taken
// under the read lock, so it is snapshot-consistent.
type Store struct {
	mu       sync.RWMutex
	tenants  map[string]datatypes.Tenant
	handles  map[string]datatypes.SchemaHandle
	audit    []datatypes.AuditEntry
	policies map[policyKey][]datatypes.RetentionPolicy
	jobs     map[string]datatypes.ErasureJob
	exports  map[string][]datatypes.ExportJob
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		tenants:  make(map[string]datatypes.Tenant),
		handles:  make(map[string]datatypes.SchemaHandle),
		policies: make(map[policyKey][]datatypes.RetentionPolicy),
		jobs:     make(map[string]datatypes.ErasureJob),
		exports:  make(map[string][]datatypes.ExportJob),
	}
}

// =============================================================================
// Tenants
// =============================================================================

func (s *Store) GetTenant(ctx context.Context, id string) (datatypes.Tenant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	return t, ok, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (datatypes.Tenant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Slug == slug {
			return t, true, nil
		}
	}
	return datatypes.Tenant{}, false, nil
}

func (s *Store) PutTenant(ctx context.Context, t datatypes.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, id)
	return nil
}

// ListTenants returns tenants ordered by creation time.
func (s *Store) ListTenants(ctx context.Context) ([]datatypes.Tenant, error) {
	s.mu.RLock()
	out := make([]datatypes.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// Schema handles
// =============================================================================

func (s *Store) GetHandle(ctx context.Context, namespace string) (datatypes.SchemaHandle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[namespace]
	return h, ok, nil
}

func (s *Store) PutHandle(ctx context.Context, h datatypes.SchemaHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.Namespace] = h
	return nil
}

func (s *Store) ListHandles(ctx context.Context) ([]datatypes.SchemaHandle, error) {
	s.mu.RLock()
	out := make([]datatypes.SchemaHandle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out, nil
}

// =============================================================================
// Audit sequence
// =============================================================================

func (s *Store) LastEntry(ctx context.Context) (datatypes.AuditEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return datatypes.AuditEntry{}, false, nil
	}
	return s.audit[len(s.audit)-1], true, nil
}

// AppendEntry rejects entries whose sequence does not extend the log.
func (s *Store) AppendEntry(ctx context.Context, e datatypes.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := int64(len(s.audit)) + 1; e.Sequence != want {
		return fmt.Errorf("memory: audit sequence %d does not extend log (want %d)", e.Sequence, want)
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) Scan(ctx context.Context, fromSeq, toSeq int64, fn func(datatypes.AuditEntry) (bool, error)) error {
	s.mu.RLock()
	snapshot := s.audit
	s.mu.RUnlock()

	if fromSeq < 1 {
		fromSeq = 1
	}
	last := int64(len(snapshot))
	if toSeq <= 0 || toSeq > last {
		toSeq = last
	}
	for seq := fromSeq; seq <= toSeq; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cont, err := fn(snapshot[seq-1])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// =============================================================================
// Retention policies
// =============================================================================

func (s *Store) CurrentPolicy(ctx context.Context, tenantID string, category datatypes.DataCategory) (datatypes.RetentionPolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.policies[policyKey{tenantID, category}]
	if len(versions) == 0 {
		return datatypes.RetentionPolicy{}, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// SavePolicy appends p as the newest version and supersedes the previous one.
func (s *Store) SavePolicy(ctx context.Context, p datatypes.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyKey{p.TenantID, p.Category}
	versions := s.policies[key]
	if n := len(versions); n > 0 {
		superseded := p.CreatedAt
		versions[n-1].SupersededAt = &superseded
	}
	s.policies[key] = append(versions, p)
	return nil
}

func (s *Store) PolicyHistory(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.policies[policyKey{tenantID, category}]
	return append([]datatypes.RetentionPolicy(nil), versions...), nil
}

// =============================================================================
// Erasure jobs
// =============================================================================

func (s *Store) GetJob(ctx context.Context, tenantID string) (datatypes.ErasureJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[tenantID]
	return j, ok, nil
}

func (s *Store) PutJob(ctx context.Context, j datatypes.ErasureJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.TenantID] = j
	return nil
}

func (s *Store) ListJobs(ctx context.Context) ([]datatypes.ErasureJob, error) {
	s.mu.RLock()
	out := make([]datatypes.ErasureJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// =============================================================================
// Export jobs
// =============================================================================

func (s *Store) GetExportJob(ctx context.Context, tenantID, jobID string) (datatypes.ExportJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.exports[tenantID] {
		if j.JobID == jobID {
			return j, true, nil
		}
	}
	return datatypes.ExportJob{}, false, nil
}

func (s *Store) PutExportJob(ctx context.Context, j datatypes.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.exports[j.TenantID]
	for i := range jobs {
		if jobs[i].JobID == j.JobID {
			jobs[i] = j
			return nil
		}
	}
	s.exports[j.TenantID] = append(jobs, j)
	return nil
}

// ListExportJobs returns tenantID's exports oldest first.
func (s *Store) ListExportJobs(ctx context.Context, tenantID string) ([]datatypes.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]datatypes.ExportJob(nil), s.exports[tenantID]...), nil
}

// TamperAuditEntry rewrites a stored audit entry in place. It exists for
// integrity-check drills; production stores have no equivalent.
func (s *Store) TamperAuditEntry(seq int64, mutate func(*datatypes.AuditEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 1 || seq > int64(len(s.audit)) {
		return fmt.Errorf("memory: no audit entry %d", seq)
	}
	// Copy the backing array so snapshots already handed out stay intact.
	audit := append([]datatypes.AuditEntry(nil), s.audit...)
	mutate(&audit[seq-1])
	s.audit = audit
	return nil
}
