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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// HaltState describes the integrity latch.
type HaltState struct {
	Halted      bool       `json:"halted"`
	BrokenAtSeq int64      `json:"broken_at_seq,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// Halt latches an audit chain integrity violation.
//
// # Description
//
// Trip is called when verification finds a broken chain. Retention
// enforcement and erasure call Check before destructive work and refuse
// while the latch is set. A later valid verification does not reopen it;
// only Chain.ClearHalt does. The first violation is kept until cleared.
//
// The zero value is open. A nil *Halt never halts.
//
// # Thread Safety
//
// Safe for concurrent use.
type Halt struct {
	mu    sync.RWMutex
	state HaltState
}

// Trip sets the latch for a chain broken at brokenAtSeq.
func (h *Halt) Trip(brokenAtSeq int64, at time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Halted {
		return
	}
	at = at.UTC()
	h.state = HaltState{Halted: true, BrokenAtSeq: brokenAtSeq, Since: &at}
	slog.Error("tenancy.audit.automation_halted", "broken_at_seq", brokenAtSeq)
}

// Check returns an error wrapping ErrAutomationHalted and the latched
// *ChainError while the latch is set.
func (h *Halt) Check() error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.state.Halted {
		return nil
	}
	return fmt.Errorf("%w: %w", datatypes.ErrAutomationHalted, &datatypes.ChainError{BrokenAtSeq: h.state.BrokenAtSeq})
}

// State returns a copy of the latch.
func (h *Halt) State() HaltState {
	if h == nil {
		return HaltState{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// reset opens the latch and returns the state it held.
func (h *Halt) reset() HaltState {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.state
	h.state = HaltState{}
	return prev
}
