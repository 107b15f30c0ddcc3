// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/retention"
)

type fakeRetention struct {
	calls  atomic.Int32
	report retention.Report
	err    error
}

func (f *fakeRetention) RunOnce(ctx context.Context) (retention.Report, error) {
	f.calls.Add(1)
	return f.report, f.err
}

type fakeResumer struct{ calls atomic.Int32 }

func (f *fakeResumer) ResumePending(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 2, nil
}

type fakeScanner struct{ calls atomic.Int32 }

func (f *fakeScanner) ScanAll(ctx context.Context, tenants anomaly.TenantLister) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

type noTenants struct{}

func (noTenants) List(ctx context.Context) ([]datatypes.Tenant, error) { return nil, nil }

type fakeVerifier struct{ result datatypes.VerifyResult }

func (f fakeVerifier) Verify(ctx context.Context, fromSeq, toSeq int64) (datatypes.VerifyResult, error) {
	return f.result, nil
}

func TestRunNow_AllTasks(t *testing.T) {
	ret := &fakeRetention{report: retention.Report{TenantsScanned: 3, SoftDeleted: 5}}
	res := &fakeResumer{}
	scan := &fakeScanner{}
	s := New(Deps{
		Retention: ret,
		Erasure:   res,
		Anomaly:   scan,
		Tenants:   noTenants{},
		Chain:     fakeVerifier{result: datatypes.VerifyResult{Valid: true, Checked: 12}},
	}, DefaultConfig())

	results := s.RunNow(context.Background())
	require.Len(t, results, 4)

	assert.Equal(t, TaskVerify, results[0].Task)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, int64(12), results[0].Summary["checked"])

	assert.Equal(t, TaskRetention, results[1].Task)
	assert.Empty(t, results[1].Error)
	assert.Equal(t, int64(5), results[1].Summary["soft_deleted"])

	assert.Equal(t, 2, results[2].Summary["resumed"])
	assert.Equal(t, 1, results[3].Summary["anomalies"])
}

func TestRunNow_BrokenChainHaltsDestructiveTasks(t *testing.T) {
	broken := int64(3)
	ret := &fakeRetention{}
	res := &fakeResumer{}
	scan := &fakeScanner{}
	halt := &audit.Halt{}
	s := New(Deps{
		Retention: ret,
		Erasure:   res,
		Anomaly:   scan,
		Tenants:   noTenants{},
		Chain:     fakeVerifier{result: datatypes.VerifyResult{Valid: false, BrokenAtSeq: &broken}},
		Halt:      halt,
	}, DefaultConfig())
	assert.Same(t, halt, s.Halt())

	for range 2 {
		results := s.RunNow(context.Background())
		require.Len(t, results, 4)
		assert.Equal(t, int64(3), results[0].Summary["broken_at_seq"])
		for _, r := range results[1:3] {
			assert.Equal(t, "integrity_halt", r.Summary["skipped"], r.Task)
			assert.Contains(t, r.Error, "automation halted")
		}
		assert.Empty(t, results[3].Error)
	}

	assert.Zero(t, ret.calls.Load())
	assert.Zero(t, res.calls.Load())
	assert.Equal(t, int32(2), scan.calls.Load())
	assert.ErrorIs(t, halt.Check(), datatypes.ErrChainIntegrityViolation)
}

func TestRunNow_HaltPersistsAfterValidVerify(t *testing.T) {
	ret := &fakeRetention{}
	halt := &audit.Halt{}
	halt.Trip(9, time.Now())

	s := New(Deps{
		Retention: ret,
		Chain:     fakeVerifier{result: datatypes.VerifyResult{Valid: true}},
		Halt:      halt,
	}, DefaultConfig())

	results := s.RunNow(context.Background())
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error)
	assert.Zero(t, ret.calls.Load())
}

func TestRunNow_RetentionFailures(t *testing.T) {
	ret := &fakeRetention{report: retention.Report{Failures: []retention.TenantFailure{{TenantID: "t1", Error: "boom"}}}}
	results := New(Deps{Retention: ret}, DefaultConfig()).RunNow(context.Background())
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "1 tenants")

	ret = &fakeRetention{err: datatypes.ErrClockInsane}
	results = New(Deps{Retention: ret}, DefaultConfig()).RunNow(context.Background())
	assert.Contains(t, results[0].Error, "clock")
}

func TestStartStop(t *testing.T) {
	ret := &fakeRetention{}
	res := &fakeResumer{}
	s := New(Deps{Retention: ret, Erasure: res}, Config{
		RetentionInterval: 10 * time.Millisecond,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return ret.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	stopped := ret.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, ret.calls.Load())
	assert.Zero(t, res.calls.Load(), "erasure loop has no interval")

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestStart_ContextCancel(t *testing.T) {
	ret := &fakeRetention{}
	s := New(Deps{Retention: ret}, Config{RetentionInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return ret.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())
}

func TestRunLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	log, err := OpenRunLog(path)
	require.NoError(t, err)

	ret := &fakeRetention{err: errors.New("store offline")}
	New(Deps{Retention: ret, Erasure: &fakeResumer{}, RunLog: log}, DefaultConfig()).RunNow(context.Background())
	require.NoError(t, log.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(runLogFileMode), info.Mode().Perm())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, TaskRetention, lines[0]["task"])
	assert.Equal(t, "store offline", lines[0]["error"])
	assert.Equal(t, TaskErasure, lines[1]["task"])
	assert.Contains(t, lines[1], "duration_ms")
}
