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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStore_Tenants(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a := datatypes.Tenant{ID: "b-id", Slug: "beta", Status: datatypes.StatusPending, CreatedAt: t0.Add(time.Hour)}
	b := datatypes.Tenant{ID: "a-id", Slug: "alpha", Status: datatypes.StatusActive, CreatedAt: t0}
	require.NoError(t, s.PutTenant(ctx, a))
	require.NoError(t, s.PutTenant(ctx, b))

	got, ok, err := s.GetTenant(ctx, "b-id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "beta", got.Slug)

	got, ok, err = s.GetTenantBySlug(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a-id", got.ID)

	list, err := s.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-id", list[0].ID, "ordered by creation time")

	require.NoError(t, s.DeleteTenant(ctx, "b-id"))
	_, ok, err = s.GetTenantBySlug(ctx, "beta")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.DeleteTenant(ctx, "missing"))
}

func TestStore_Handles(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	h := datatypes.SchemaHandle{Slug: "acme", Namespace: "tenant_acme", State: datatypes.SchemaPresent, CreatedAt: t0}
	require.NoError(t, s.PutHandle(ctx, h))

	got, ok, err := s.GetHandle(ctx, "tenant_acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, datatypes.SchemaPresent, got.State)

	_, ok, err = s.GetHandle(ctx, "tenant_other")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListHandles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_AuditSequence(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.LastEntry(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.AppendEntry(ctx, datatypes.AuditEntry{Sequence: 2}), "gap rejected")

	for seq := int64(1); seq <= 300; seq++ {
		require.NoError(t, s.AppendEntry(ctx, datatypes.AuditEntry{Sequence: seq, Action: "x"}))
	}
	assert.Error(t, s.AppendEntry(ctx, datatypes.AuditEntry{Sequence: 300}), "duplicate rejected")

	last, ok, err := s.LastEntry(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(300), last.Sequence)

	var seen []int64
	err = s.Scan(ctx, 255, 258, func(e datatypes.AuditEntry) (bool, error) {
		seen = append(seen, e.Sequence)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{255, 256, 257, 258}, seen, "big-endian keys keep numeric order")

	seen = nil
	err = s.Scan(ctx, 0, 0, func(e datatypes.AuditEntry) (bool, error) {
		seen = append(seen, e.Sequence)
		return len(seen) < 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestStore_ChainOverBadger(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	clk := clock.NewManual(t0)

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0
	db, err := OpenDB(cfg)
	require.NoError(t, err)

	chain := audit.NewChain(NewStore(db), clk, nil)
	tenant := "tenant-1"
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		_, err := chain.Append(ctx, &tenant, "admin", "tenant.transitioned", map[string]any{"step": i, "ok": true})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	// Reopen: the chain resumes from the persisted head and still verifies.
	db, err = OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	chain = audit.NewChain(NewStore(db), clk, nil)
	entry, err := chain.Append(ctx, nil, "system", "platform.started", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.Sequence)

	result, err := chain.Verify(ctx, 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(6), result.Checked)
}

func TestStore_Policies(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.CurrentPolicy(ctx, "t1", datatypes.CategoryPII)
	require.NoError(t, err)
	assert.False(t, ok)

	for v := 1; v <= 3; v++ {
		require.NoError(t, s.SavePolicy(ctx, datatypes.RetentionPolicy{
			TenantID: "t1", Category: datatypes.CategoryPII, Version: v,
			RetentionDays: 10 * v, CreatedAt: t0.Add(time.Duration(v) * time.Hour),
		}))
	}
	require.NoError(t, s.SavePolicy(ctx, datatypes.RetentionPolicy{
		TenantID: "t1", Version: 1, RetentionDays: 99, CreatedAt: t0,
	}))

	cur, ok, err := s.CurrentPolicy(ctx, "t1", datatypes.CategoryPII)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cur.Version)
	assert.Nil(t, cur.SupersededAt)

	history, err := s.PolicyHistory(ctx, "t1", datatypes.CategoryPII)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.NotNil(t, history[0].SupersededAt)
	assert.Equal(t, t0.Add(2*time.Hour), *history[0].SupersededAt)

	tenantLevel, ok, err := s.CurrentPolicy(ctx, "t1", datatypes.CategoryNone)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, tenantLevel.RetentionDays)
}

func TestStore_Jobs(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	job := datatypes.ErasureJob{TenantID: "t1", Outcome: datatypes.OutcomeRunning, StartedAt: t0}
	job.MarkDone(datatypes.StepFreeze)
	job.MarkDone(datatypes.StepExportBackup)
	job.Export = &datatypes.PackageRef{URI: "gs://b/t1.tar.gz", Checksum: "abc", SizeBytes: 10}
	require.NoError(t, s.PutJob(ctx, job))

	got, ok, err := s.GetJob(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, datatypes.StepCascadeDelete, got.NextStep())
	assert.Equal(t, "abc", got.Export.Checksum)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStore_ExportJobs(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	second := datatypes.ExportJob{JobID: "j2", TenantID: "t1", Status: datatypes.ExportQueued, CreatedAt: t0.Add(time.Hour)}
	first := datatypes.ExportJob{JobID: "j1", TenantID: "t1", Status: datatypes.ExportQueued, CreatedAt: t0}
	other := datatypes.ExportJob{JobID: "j3", TenantID: "t10", Status: datatypes.ExportQueued, CreatedAt: t0}
	for _, j := range []datatypes.ExportJob{second, first, other} {
		require.NoError(t, s.PutExportJob(ctx, j))
	}

	first.Status = datatypes.ExportCompleted
	first.Package = &datatypes.PackageRef{URI: "gs://b/t1.tar.gz", Tables: 2}
	require.NoError(t, s.PutExportJob(ctx, first))

	got, ok, err := s.GetExportJob(ctx, "t1", "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, datatypes.ExportCompleted, got.Status)
	assert.Equal(t, 2, got.Package.Tables)

	_, ok, err = s.GetExportJob(ctx, "t10", "j1")
	require.NoError(t, err)
	assert.False(t, ok)

	jobs, err := s.ListExportJobs(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, jobs, 2, "t10's jobs share the t1 key prefix but not the separator")
	assert.Equal(t, "j1", jobs[0].JobID)
	assert.Equal(t, "j2", jobs[1].JobID)
}
