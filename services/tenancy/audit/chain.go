// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit implements the tamper-evident audit chain that records every
// state-changing tenancy action.
//
// # Description
//
// Entries form a single global, gap-free sequence. Each entry's hash covers
// its own fields and the previous entry's hash, so editing any stored entry
// is detected by Verify at that entry's sequence number.
//
// # Thread Safety
//
// Append is serialized by a mutex. Verify and Query use snapshot reads of
// the store and may run concurrently with Append.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

// GenesisHash is the previous-hash value of the first entry in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Store persists audit entries in sequence order.
//
// # Description
//
// Scan visits entries with fromSeq <= Sequence <= toSeq in ascending order
// from a consistent snapshot; toSeq <= 0 means "to the end". fn returns
// false to stop early, in which case Scan returns nil.
type Store interface {
	LastEntry(ctx context.Context) (datatypes.AuditEntry, bool, error)
	AppendEntry(ctx context.Context, entry datatypes.AuditEntry) error
	Scan(ctx context.Context, fromSeq, toSeq int64, fn func(datatypes.AuditEntry) (bool, error)) error
}

// Chain is the append-only audit log.
type Chain struct {
	store   Store
	clock   ports.Clock
	metrics *observability.Metrics

	mu       sync.Mutex
	loaded   bool
	seq      int64
	prevHash string

	halt Halt
}

// NewChain creates a chain over store. The chain resumes from the store's
// last entry on first append. A nil clk uses the system clock.
func NewChain(store Store, clk ports.Clock, metrics *observability.Metrics) *Chain {
	if clk == nil {
		clk = clock.System{}
	}
	return &Chain{store: store, clock: clk, metrics: metrics}
}

// Append adds an entry to the chain.
//
// # Description
//
// Assigns the next sequence number, links the entry to the previous hash and
// persists it. The payload is normalized through JSON before hashing so the
// stored form and the hashed form are identical. On a store failure the
// chain head is unchanged and the next append reuses the sequence number.
//
// # Inputs
//
//   - tenantID: Tenant the event concerns; nil for platform-level events.
//   - actor: Who performed the action.
//   - action: Action code, e.g. datatypes.ActionTenantTransitioned.
//   - payload: Structured detail. Must be JSON-encodable.
//
// # Outputs
//
//   - datatypes.AuditEntry: The persisted entry including its hash.
//   - error: Non-nil if the payload cannot be encoded or the store fails.
func (c *Chain) Append(ctx context.Context, tenantID *string, actor, action string, payload map[string]any) (datatypes.AuditEntry, error) {
	normalized, err := normalizePayload(payload)
	if err != nil {
		return datatypes.AuditEntry{}, fmt.Errorf("audit: encode payload for %s: %w", action, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadHeadLocked(ctx); err != nil {
		return datatypes.AuditEntry{}, err
	}

	var tid *string
	if tenantID != nil {
		tid = datatypes.StringPtr(*tenantID)
	}

	entry := datatypes.AuditEntry{
		Sequence:  c.seq + 1,
		TenantID:  tid,
		Actor:     actor,
		Action:    action,
		Payload:   normalized,
		Timestamp: c.clock.Now().UTC().Round(0),
		PrevHash:  c.prevHash,
	}
	entry.Hash = ComputeHash(entry)

	if err := c.store.AppendEntry(ctx, entry); err != nil {
		return datatypes.AuditEntry{}, fmt.Errorf("audit: append sequence %d: %w", entry.Sequence, err)
	}

	c.seq = entry.Sequence
	c.prevHash = entry.Hash
	c.metrics.RecordAuditAppend(action)

	slog.Debug("tenancy.audit.appended",
		"sequence", entry.Sequence,
		"tenant_id", entry.TenantIDValue(),
		"action", action,
		"actor", actor,
	)

	return entry, nil
}

// loadHeadLocked reads the chain head from the store once. Caller holds c.mu.
func (c *Chain) loadHeadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	last, ok, err := c.store.LastEntry(ctx)
	if err != nil {
		return fmt.Errorf("audit: load chain head: %w", err)
	}
	if ok {
		c.seq = last.Sequence
		c.prevHash = last.Hash
	} else {
		c.seq = 0
		c.prevHash = GenesisHash
	}
	c.loaded = true
	return nil
}

// Halt returns the integrity latch tripped by failed verifications.
func (c *Chain) Halt() *Halt {
	return &c.halt
}

// HaltState returns a copy of the integrity latch.
func (c *Chain) HaltState() HaltState {
	return c.halt.State()
}

// ClearHalt reopens the integrity latch after an operator has investigated
// the violation. The clearance is recorded as a platform audit entry; if
// that append fails the latch stays set. Clearing an open latch is a no-op.
func (c *Chain) ClearHalt(ctx context.Context, actor, reason string) (HaltState, error) {
	state := c.halt.State()
	if !state.Halted {
		return state, nil
	}
	payload := map[string]any{
		"broken_at_seq": state.BrokenAtSeq,
		"halted_since":  state.Since.Format(time.RFC3339Nano),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := c.Append(ctx, nil, actor, datatypes.ActionAuditHaltCleared, payload); err != nil {
		return state, err
	}
	prev := c.halt.reset()
	slog.Warn("tenancy.audit.halt_cleared",
		"broken_at_seq", prev.BrokenAtSeq,
		"actor", actor,
	)
	return HaltState{}, nil
}

// Head returns the last entry of the chain, or false for an empty chain.
func (c *Chain) Head(ctx context.Context) (datatypes.AuditEntry, bool, error) {
	return c.store.LastEntry(ctx)
}

// Verify recomputes hashes over [fromSeq, toSeq] and reports the first
// broken sequence number.
//
// # Description
//
// fromSeq below 1 is treated as 1. toSeq <= 0 or beyond the head is treated
// as the head. The entry before fromSeq anchors the range by its stored hash.
// An entry is broken when its sequence is out of place, its PrevHash does
// not match the previous entry's hash, or its recomputed hash differs from
// the stored one. Verify never mutates the chain; a broken result trips
// the integrity latch returned by Halt.
//
// # Outputs
//
//   - datatypes.VerifyResult: Valid, or BrokenAtSeq for the first failure.
//     Use result.Err() to obtain a ErrChainIntegrityViolation.
//   - error: Non-nil only for store failures.
func (c *Chain) Verify(ctx context.Context, fromSeq, toSeq int64) (datatypes.VerifyResult, error) {
	last, ok, err := c.store.LastEntry(ctx)
	if err != nil {
		c.metrics.RecordVerification("error")
		return datatypes.VerifyResult{}, fmt.Errorf("audit: verify: %w", err)
	}
	if !ok {
		c.metrics.RecordVerification("valid")
		return datatypes.VerifyResult{Valid: true}, nil
	}

	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq <= 0 || toSeq > last.Sequence {
		toSeq = last.Sequence
	}
	result := datatypes.VerifyResult{Valid: true, FromSeq: fromSeq, ToSeq: toSeq}
	if fromSeq > toSeq {
		c.metrics.RecordVerification("valid")
		return result, nil
	}

	prev := GenesisHash
	if fromSeq > 1 {
		anchor, found, err := c.entryAt(ctx, fromSeq-1)
		if err != nil {
			c.metrics.RecordVerification("error")
			return datatypes.VerifyResult{}, err
		}
		if !found {
			result.Valid = false
			broken := fromSeq - 1
			result.BrokenAtSeq = &broken
			c.recordBroken(result)
			return result, nil
		}
		prev = anchor.Hash
	}

	expected := fromSeq
	err = c.store.Scan(ctx, fromSeq, toSeq, func(e datatypes.AuditEntry) (bool, error) {
		if e.Sequence != expected || e.PrevHash != prev || ComputeHash(e) != e.Hash {
			broken := expected
			result.Valid = false
			result.BrokenAtSeq = &broken
			return false, nil
		}
		prev = e.Hash
		expected++
		result.Checked++
		return true, nil
	})
	if err != nil {
		c.metrics.RecordVerification("error")
		return datatypes.VerifyResult{}, fmt.Errorf("audit: verify scan: %w", err)
	}

	if result.Valid && expected <= toSeq {
		broken := expected
		result.Valid = false
		result.BrokenAtSeq = &broken
	}

	if !result.Valid {
		c.recordBroken(result)
		return result, nil
	}
	c.metrics.RecordVerification("valid")
	return result, nil
}

func (c *Chain) recordBroken(result datatypes.VerifyResult) {
	c.metrics.RecordVerification("broken")
	c.halt.Trip(*result.BrokenAtSeq, c.clock.Now())
	slog.Error("tenancy.audit.chain_broken",
		"broken_at_seq", *result.BrokenAtSeq,
		"from_seq", result.FromSeq,
		"to_seq", result.ToSeq,
	)
}

func (c *Chain) entryAt(ctx context.Context, seq int64) (datatypes.AuditEntry, bool, error) {
	var (
		found datatypes.AuditEntry
		ok    bool
	)
	err := c.store.Scan(ctx, seq, seq, func(e datatypes.AuditEntry) (bool, error) {
		found, ok = e, e.Sequence == seq
		return false, nil
	})
	if err != nil {
		return datatypes.AuditEntry{}, false, fmt.Errorf("audit: read sequence %d: %w", seq, err)
	}
	return found, ok, nil
}

// errStopQuery ends a scan after the consumer stopped iterating.
var errStopQuery = errors.New("audit: query stopped")

// Query returns the entries matching filter in ascending sequence order.
//
// # Description
//
// The sequence is lazy and restartable: each range over it opens a fresh
// snapshot scan. A store failure is yielded once as the error value and
// ends the sequence.
//
// # Examples
//
//	for entry, err := range chain.Query(ctx, datatypes.AuditFilter{TenantID: &id}) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(entry.Sequence, entry.Action)
//	}
func (c *Chain) Query(ctx context.Context, filter datatypes.AuditFilter) iter.Seq2[datatypes.AuditEntry, error] {
	return func(yield func(datatypes.AuditEntry, error) bool) {
		err := c.store.Scan(ctx, 1, 0, func(e datatypes.AuditEntry) (bool, error) {
			if !filter.Matches(e) {
				return true, nil
			}
			if !yield(e, nil) {
				return false, errStopQuery
			}
			return true, nil
		})
		if err != nil && !errors.Is(err, errStopQuery) {
			yield(datatypes.AuditEntry{}, fmt.Errorf("audit: query: %w", err))
		}
	}
}

// =============================================================================
// Canonical Serialization
// =============================================================================

// ComputeHash returns the hex SHA-256 of the entry's canonical form followed
// by its PrevHash.
//
// # Description
//
// Canonical form, in this order: sequence (base 10), tenant id ("" for
// platform events), actor, action, payload as JSON with sorted keys,
// timestamp as RFC3339Nano in UTC, PrevHash. Each field is written as
// <byte length>:<value> so no choice of field contents can shift a
// boundary. The Hash field itself is excluded.
func ComputeHash(e datatypes.AuditEntry) string {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte("null")
	}

	var b strings.Builder
	for _, field := range []string{
		strconv.FormatInt(e.Sequence, 10),
		e.TenantIDValue(),
		e.Actor,
		e.Action,
		string(payload),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PrevHash,
	} {
		b.WriteString(strconv.Itoa(len(field)))
		b.WriteByte(':')
		b.WriteString(field)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizePayload round-trips payload through JSON so that numbers, times
// and nested structs take the form they will have after storage.
func normalizePayload(payload map[string]any) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
