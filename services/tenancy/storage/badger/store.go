// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// Key layout:
//
//	tenant/<id>                          → Tenant
//	slug/<slug>                          → tenant id
//	handle/<namespace>                   → SchemaHandle
//	audit/<seq uint64 BE>                → AuditEntry
//	policy/<tenant>/<category|_>/<ver BE> → RetentionPolicy
//	job/<tenant>                         → ErasureJob
//	export/<tenant>/<job id>             → ExportJob
const (
	prefixTenant = "tenant/"
	prefixSlug   = "slug/"
	prefixHandle = "handle/"
	prefixAudit  = "audit/"
	prefixPolicy = "policy/"
	prefixJob    = "job/"
	prefixExport = "export/"
)

// Store implements every tenancy registry on top of DB.
//
// # Thread Safety
//
// Safe for concurrent use. Conflicting writes fail with
// badger.ErrConflict; the audit chain already serializes appends.
type Store struct {
	db *DB
}

// NewStore creates a Store over db.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, raw)
}

// scanPrefix decodes every value under prefix in key order. fn returns
// false to stop.
func scanPrefix[T any](txn *badger.Txn, prefix []byte, fn func(T) bool) error {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if !fn(v) {
			return nil
		}
	}
	return nil
}

// =============================================================================
// Tenants
// =============================================================================

func tenantKey(id string) []byte { return []byte(prefixTenant + id) }
func slugKey(slug string) []byte { return []byte(prefixSlug + slug) }

func (s *Store) GetTenant(ctx context.Context, id string) (t datatypes.Tenant, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ok, err = getJSON(txn, tenantKey(id), &t)
		return err
	})
	return t, ok, err
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (t datatypes.Tenant, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(slugKey(slug))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		ok, err = getJSON(txn, tenantKey(string(id)), &t)
		return err
	})
	return t, ok, err
}

func (s *Store) PutTenant(ctx context.Context, t datatypes.Tenant) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, tenantKey(t.ID), t); err != nil {
			return err
		}
		return txn.Set(slugKey(t.Slug), []byte(t.ID))
	})
}

func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var t datatypes.Tenant
		ok, err := getJSON(txn, tenantKey(id), &t)
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete(slugKey(t.Slug)); err != nil {
			return err
		}
		return txn.Delete(tenantKey(id))
	})
}

// ListTenants returns tenants ordered by creation time.
func (s *Store) ListTenants(ctx context.Context) ([]datatypes.Tenant, error) {
	var out []datatypes.Tenant
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixTenant), func(t datatypes.Tenant) bool {
			out = append(out, t)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
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

func handleKey(ns string) []byte { return []byte(prefixHandle + ns) }

func (s *Store) GetHandle(ctx context.Context, namespace string) (h datatypes.SchemaHandle, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ok, err = getJSON(txn, handleKey(namespace), &h)
		return err
	})
	return h, ok, err
}

func (s *Store) PutHandle(ctx context.Context, h datatypes.SchemaHandle) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, handleKey(h.Namespace), h)
	})
}

func (s *Store) ListHandles(ctx context.Context) ([]datatypes.SchemaHandle, error) {
	var out []datatypes.SchemaHandle
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixHandle), func(h datatypes.SchemaHandle) bool {
			out = append(out, h)
			return true
		})
	})
	return out, err
}

// =============================================================================
// Audit sequence
// =============================================================================

func auditKey(seq int64) []byte {
	key := make([]byte, len(prefixAudit)+8)
	copy(key, prefixAudit)
	binary.BigEndian.PutUint64(key[len(prefixAudit):], uint64(seq))
	return key
}

func lastAudit(txn *badger.Txn) (e datatypes.AuditEntry, ok bool, err error) {
	prefix := []byte(prefixAudit)
	it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: prefix})
	defer it.Close()

	it.Seek(auditKey(1<<63 - 1))
	if !it.ValidForPrefix(prefix) {
		return e, false, nil
	}
	err = it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) })
	return e, err == nil, err
}

func (s *Store) LastEntry(ctx context.Context) (e datatypes.AuditEntry, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		e, ok, err = lastAudit(txn)
		return err
	})
	return e, ok, err
}

// AppendEntry writes e if its sequence extends the stored log by one.
func (s *Store) AppendEntry(ctx context.Context, e datatypes.AuditEntry) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		last, ok, err := lastAudit(txn)
		if err != nil {
			return err
		}
		want := int64(1)
		if ok {
			want = last.Sequence + 1
		}
		if e.Sequence != want {
			return fmt.Errorf("badger: audit sequence %d does not extend log (want %d)", e.Sequence, want)
		}
		return setJSON(txn, auditKey(e.Sequence), e)
	})
}

// Scan reads entries fromSeq..toSeq from one snapshot. toSeq <= 0 means
// through the last entry.
func (s *Store) Scan(ctx context.Context, fromSeq, toSeq int64, fn func(datatypes.AuditEntry) (bool, error)) error {
	if fromSeq < 1 {
		fromSeq = 1
	}
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte(prefixAudit)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(auditKey(fromSeq)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e datatypes.AuditEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return fmt.Errorf("badger: decode audit entry: %w", err)
			}
			if toSeq > 0 && e.Sequence > toSeq {
				return nil
			}
			cont, err := fn(e)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// =============================================================================
// Retention policies
// =============================================================================

func policyPrefix(tenantID string, category datatypes.DataCategory) []byte {
	seg := string(category)
	if seg == "" {
		seg = "_"
	}
	return []byte(prefixPolicy + tenantID + "/" + seg + "/")
}

func policyKey(p datatypes.RetentionPolicy) []byte {
	prefix := policyPrefix(p.TenantID, p.Category)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(p.Version))
	return key
}

func lastPolicy(txn *badger.Txn, tenantID string, category datatypes.DataCategory) (p datatypes.RetentionPolicy, ok bool, err error) {
	prefix := policyPrefix(tenantID, category)
	it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: prefix})
	defer it.Close()

	seek := append(append([]byte(nil), prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return p, false, nil
	}
	err = it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) })
	return p, err == nil, err
}

func (s *Store) CurrentPolicy(ctx context.Context, tenantID string, category datatypes.DataCategory) (p datatypes.RetentionPolicy, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		p, ok, err = lastPolicy(txn, tenantID, category)
		return err
	})
	return p, ok, err
}

// SavePolicy stores p and marks the previous version superseded.
func (s *Store) SavePolicy(ctx context.Context, p datatypes.RetentionPolicy) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		prev, ok, err := lastPolicy(txn, p.TenantID, p.Category)
		if err != nil {
			return err
		}
		if ok {
			superseded := p.CreatedAt
			prev.SupersededAt = &superseded
			if err := setJSON(txn, policyKey(prev), prev); err != nil {
				return err
			}
		}
		return setJSON(txn, policyKey(p), p)
	})
}

func (s *Store) PolicyHistory(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetentionPolicy, error) {
	var out []datatypes.RetentionPolicy
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, policyPrefix(tenantID, category), func(p datatypes.RetentionPolicy) bool {
			out = append(out, p)
			return true
		})
	})
	return out, err
}

// =============================================================================
// Erasure jobs
// =============================================================================

func jobKey(tenantID string) []byte { return []byte(prefixJob + tenantID) }

func (s *Store) GetJob(ctx context.Context, tenantID string) (j datatypes.ErasureJob, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ok, err = getJSON(txn, jobKey(tenantID), &j)
		return err
	})
	return j, ok, err
}

func (s *Store) PutJob(ctx context.Context, j datatypes.ErasureJob) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, jobKey(j.TenantID), j)
	})
}

func (s *Store) ListJobs(ctx context.Context) ([]datatypes.ErasureJob, error) {
	var out []datatypes.ErasureJob
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixJob), func(j datatypes.ErasureJob) bool {
			out = append(out, j)
			return true
		})
	})
	return out, err
}

// =============================================================================
// Export jobs
// =============================================================================

func exportKey(tenantID, jobID string) []byte {
	return []byte(prefixExport + tenantID + "/" + jobID)
}

func (s *Store) GetExportJob(ctx context.Context, tenantID, jobID string) (j datatypes.ExportJob, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ok, err = getJSON(txn, exportKey(tenantID, jobID), &j)
		return err
	})
	return j, ok, err
}

func (s *Store) PutExportJob(ctx context.Context, j datatypes.ExportJob) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, exportKey(j.TenantID, j.JobID), j)
	})
}

// ListExportJobs returns tenantID's exports oldest first.
func (s *Store) ListExportJobs(ctx context.Context, tenantID string) ([]datatypes.ExportJob, error) {
	var out []datatypes.ExportJob
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixExport+tenantID+"/"), func(j datatypes.ExportJob) bool {
			out = append(out, j)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}
