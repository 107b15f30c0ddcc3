// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// sliceStore keeps entries in memory and lets tests tamper with them.
type sliceStore struct {
	mu        sync.RWMutex
	entries   []datatypes.AuditEntry
	failNext  error
	scanCalls int
}

func (s *sliceStore) LastEntry(ctx context.Context) (datatypes.AuditEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return datatypes.AuditEntry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *sliceStore) AppendEntry(ctx context.Context, e datatypes.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *sliceStore) Scan(ctx context.Context, fromSeq, toSeq int64, fn func(datatypes.AuditEntry) (bool, error)) error {
	s.mu.Lock()
	s.scanCalls++
	snapshot := append([]datatypes.AuditEntry(nil), s.entries...)
	s.mu.Unlock()

	for i, e := range snapshot {
		pos := int64(i + 1)
		if pos < fromSeq {
			continue
		}
		if toSeq > 0 && pos > toSeq {
			break
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
}

func (s *sliceStore) tamper(seq int64, mutate func(*datatypes.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.entries[seq-1])
}

func newTestChain(t *testing.T) (*Chain, *sliceStore, *clock.Manual) {
	t.Helper()
	store := &sliceStore{}
	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	return NewChain(store, clk, nil), store, clk
}

func appendN(t *testing.T, c *Chain, clk *clock.Manual, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		tenant := fmt.Sprintf("tenant-%d", i%3)
		_, err := c.Append(ctx, &tenant, "operator", datatypes.ActionTenantTransitioned, map[string]any{
			"from":  "ACTIVE",
			"to":    "SUSPENDED",
			"count": i,
		})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
}

func TestAppend_LinksEntries(t *testing.T) {
	c, store, clk := newTestChain(t)
	appendN(t, c, clk, 3)

	require.Len(t, store.entries, 3)
	assert.Equal(t, int64(1), store.entries[0].Sequence)
	assert.Equal(t, GenesisHash, store.entries[0].PrevHash)
	for i := 1; i < 3; i++ {
		assert.Equal(t, int64(i+1), store.entries[i].Sequence)
		assert.Equal(t, store.entries[i-1].Hash, store.entries[i].PrevHash)
	}
}

func TestAppend_PlatformEvent(t *testing.T) {
	c, _, _ := newTestChain(t)

	entry, err := c.Append(context.Background(), nil, "system", datatypes.ActionRetentionPolicySet, nil)
	require.NoError(t, err)
	assert.Nil(t, entry.TenantID)
	assert.Equal(t, ComputeHash(entry), entry.Hash)
}

func TestAppend_StoreFailureKeepsHead(t *testing.T) {
	c, store, clk := newTestChain(t)
	appendN(t, c, clk, 2)

	store.failNext = errors.New("disk full")
	_, err := c.Append(context.Background(), nil, "system", "x", nil)
	require.Error(t, err)

	entry, err := c.Append(context.Background(), nil, "system", "y", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Sequence)

	res, err := c.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestAppend_ResumesFromStore(t *testing.T) {
	c, store, clk := newTestChain(t)
	appendN(t, c, clk, 4)

	resumed := NewChain(store, clk, nil)
	entry, err := resumed.Append(context.Background(), nil, "system", "after.restart", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Sequence)
	assert.Equal(t, store.entries[3].Hash, entry.PrevHash)
}

func TestAppend_ConcurrentWritersAreSerialized(t *testing.T) {
	c, store, _ := newTestChain(t)
	ctx := context.Background()

	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Append(ctx, nil, fmt.Sprintf("worker-%d", i), "concurrent", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, store.entries, writers)
	seen := make(map[string]bool, writers)
	for i, e := range store.entries {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.False(t, seen[e.Hash], "duplicate hash at %d", e.Sequence)
		seen[e.Hash] = true
	}

	res, err := c.Verify(ctx, 0, writers)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(writers), res.Checked)
}

func TestVerify_DetectsTampering(t *testing.T) {
	mutations := map[string]func(*datatypes.AuditEntry){
		"actor":     func(e *datatypes.AuditEntry) { e.Actor = "mallory" },
		"action":    func(e *datatypes.AuditEntry) { e.Action = "tenant.created" },
		"payload":   func(e *datatypes.AuditEntry) { e.Payload["to"] = "DELETED" },
		"timestamp": func(e *datatypes.AuditEntry) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
		"tenant":    func(e *datatypes.AuditEntry) { e.TenantID = datatypes.StringPtr("other") },
		"hash":      func(e *datatypes.AuditEntry) { e.Hash = GenesisHash },
		"prev_hash": func(e *datatypes.AuditEntry) { e.PrevHash = GenesisHash },
		"sequence":  func(e *datatypes.AuditEntry) { e.Sequence = 99 },
		"boundary": func(e *datatypes.AuditEntry) {
			e.Actor, e.Action = e.Actor+e.Action[:7], e.Action[7:]
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c, store, clk := newTestChain(t)
			appendN(t, c, clk, 6)

			store.tamper(4, mutate)

			res, err := c.Verify(context.Background(), 0, 6)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			require.NotNil(t, res.BrokenAtSeq)
			assert.Equal(t, int64(4), *res.BrokenAtSeq)
			assert.ErrorIs(t, res.Err(), datatypes.ErrChainIntegrityViolation)
		})
	}
}

func TestComputeHash_FieldBoundaries(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	base := datatypes.AuditEntry{Sequence: 1, Timestamp: at, PrevHash: GenesisHash}

	pairs := []struct {
		name string
		a, b func(*datatypes.AuditEntry)
	}{
		{
			name: "separator moved between actor and action",
			a:    func(e *datatypes.AuditEntry) { e.Actor, e.Action = "alice|tenant.transitioned", "x" },
			b:    func(e *datatypes.AuditEntry) { e.Actor, e.Action = "alice", "tenant.transitioned|x" },
		},
		{
			name: "tenant id absorbed into actor",
			a:    func(e *datatypes.AuditEntry) { e.TenantID, e.Actor = datatypes.StringPtr("t1"), "ops" },
			b:    func(e *datatypes.AuditEntry) { e.TenantID, e.Actor = datatypes.StringPtr("t1|ops"), "" },
		},
		{
			name: "length prefix forged in field",
			a:    func(e *datatypes.AuditEntry) { e.Actor, e.Action = "ab", "c" },
			b:    func(e *datatypes.AuditEntry) { e.Actor, e.Action = "a", "b1:c" },
		},
	}
	for _, tc := range pairs {
		t.Run(tc.name, func(t *testing.T) {
			a, b := base, base
			tc.a(&a)
			tc.b(&b)
			assert.NotEqual(t, ComputeHash(a), ComputeHash(b))
		})
	}
}

func TestVerify_DetectsPipeShift(t *testing.T) {
	c, store, _ := newTestChain(t)
	ctx := context.Background()
	_, err := c.Append(ctx, nil, "alice|tenant.transitioned", "x", nil)
	require.NoError(t, err)

	store.tamper(1, func(e *datatypes.AuditEntry) {
		e.Actor, e.Action = "alice", "tenant.transitioned|x"
	})

	res, err := c.Verify(ctx, 0, 0)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotNil(t, res.BrokenAtSeq)
	assert.Equal(t, int64(1), *res.BrokenAtSeq)
}

func TestVerify_SubRange(t *testing.T) {
	c, store, clk := newTestChain(t)
	appendN(t, c, clk, 8)
	store.tamper(2, func(e *datatypes.AuditEntry) { e.Actor = "x" })

	res, err := c.Verify(context.Background(), 5, 8)
	require.NoError(t, err)
	assert.True(t, res.Valid, "tampering outside the range must not fail it")
	assert.Equal(t, int64(4), res.Checked)

	res, err = c.Verify(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, int64(2), *res.BrokenAtSeq)
}

func TestVerify_EmptyChain(t *testing.T) {
	c, _, _ := newTestChain(t)
	res, err := c.Verify(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.NoError(t, res.Err())
}

func TestQuery_FiltersAndRestarts(t *testing.T) {
	c, _, clk := newTestChain(t)
	appendN(t, c, clk, 9)

	tenant := "tenant-1"
	seq := c.Query(context.Background(), datatypes.AuditFilter{TenantID: &tenant})

	collect := func() []int64 {
		var out []int64
		for e, err := range seq {
			require.NoError(t, err)
			out = append(out, e.Sequence)
		}
		return out
	}

	first := collect()
	assert.Equal(t, []int64{2, 5, 8}, first)
	assert.Equal(t, first, collect(), "query must be restartable")
}

func TestQuery_TimeWindowAndEarlyStop(t *testing.T) {
	c, store, clk := newTestChain(t)
	start := clk.Now()
	appendN(t, c, clk, 10)

	from := start.Add(3 * time.Second)
	to := start.Add(6 * time.Second)
	var got []int64
	for e, err := range c.Query(context.Background(), datatypes.AuditFilter{From: &from, To: &to}) {
		require.NoError(t, err)
		got = append(got, e.Sequence)
	}
	assert.Equal(t, []int64{4, 5, 6}, got)

	calls := store.scanCalls
	n := 0
	for range c.Query(context.Background(), datatypes.AuditFilter{}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, calls+1, store.scanCalls)
}

func TestVerify_TripsHaltUntilCleared(t *testing.T) {
	c, store, clk := newTestChain(t)
	ctx := context.Background()
	appendN(t, c, clk, 5)
	require.NoError(t, c.Halt().Check())

	original := store.entries[2].Actor
	store.tamper(3, func(e *datatypes.AuditEntry) { e.Actor = "mallory" })
	res, err := c.Verify(ctx, 0, 0)
	require.NoError(t, err)
	require.False(t, res.Valid)

	err = c.Halt().Check()
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrChainIntegrityViolation)
	assert.ErrorIs(t, err, datatypes.ErrAutomationHalted)
	state := c.Halt().State()
	assert.True(t, state.Halted)
	assert.Equal(t, int64(3), state.BrokenAtSeq)

	// Repairing the entry does not reopen the latch on its own.
	store.tamper(3, func(e *datatypes.AuditEntry) { e.Actor = original })
	res, err = c.Verify(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Error(t, c.Halt().Check())

	state, err = c.ClearHalt(ctx, "dpo", "restored from backup")
	require.NoError(t, err)
	assert.False(t, state.Halted)
	assert.NoError(t, c.Halt().Check())

	head, _, err := c.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ActionAuditHaltCleared, head.Action)
	assert.Equal(t, "dpo", head.Actor)
	assert.EqualValues(t, 3, head.Payload["broken_at_seq"])

	// Clearing an open latch writes nothing.
	_, err = c.ClearHalt(ctx, "dpo", "")
	require.NoError(t, err)
	again, _, err := c.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, head.Sequence, again.Sequence)
}

func TestHalt_NilIsOpen(t *testing.T) {
	var h *Halt
	h.Trip(4, time.Now())
	assert.NoError(t, h.Check())
	assert.False(t, h.State().Halted)
}
