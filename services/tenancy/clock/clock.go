// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock provides Clock implementations for the tenancy services and a
// sanity checker guarding time-sensitive retention decisions.
package clock

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

// System reads the wall clock in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests and replay tooling.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock fixed at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now returns the clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// =============================================================================
// Clock Sanity Checking
// =============================================================================

// SanityConfig bounds what the checker accepts as a plausible time.
//
// # Fields
//
//   - MinValidTime: Earliest acceptable time (default: 2025-01-01)
//   - MaxValidTime: Latest acceptable time (default: 2035-12-31)
//   - MaxBackwardJump: Largest tolerated backward step between checks (default: 1 hour)
//   - MaxForwardJump: Largest tolerated forward step between checks (default: 2 hours)
type SanityConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultSanityConfig returns the production bounds.
func DefaultSanityConfig() SanityConfig {
	return SanityConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

// Checker validates a clock before retention enforcement acts on it.
//
// # Description
//
// A clock set to the future deletes data early; a clock set to the past
// keeps data past its retention period. Checker rejects readings outside
// the configured bounds and readings that jumped too far since the
// previous successful check.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Checker struct {
	clock  ports.Clock
	config SanityConfig

	mu        sync.RWMutex
	lastGood  time.Time
	haveCheck bool
}

// NewChecker wraps clk with sanity checks using config.
func NewChecker(clk ports.Clock, config SanityConfig) *Checker {
	return &Checker{clock: clk, config: config}
}

// Check validates the current reading and returns it.
//
// # Outputs
//
//   - time.Time: The reading, valid only when err is nil.
//   - error: Wraps datatypes.ErrClockInsane when the reading is implausible.
//
// # Limitations
//
//   - Cannot detect slow drift within acceptable bounds.
//   - The first check after construction or Reset skips jump detection.
func (c *Checker) Check() (time.Time, error) {
	now := c.clock.Now()

	if now.Before(c.config.MinValidTime) {
		return time.Time{}, fmt.Errorf("%w: %s is before minimum %s",
			datatypes.ErrClockInsane, now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}
	if now.After(c.config.MaxValidTime) {
		return time.Time{}, fmt.Errorf("%w: %s is after maximum %s",
			datatypes.ErrClockInsane, now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.RLock()
	lastGood, haveCheck := c.lastGood, c.haveCheck
	c.mu.RUnlock()

	if haveCheck {
		diff := now.Sub(lastGood)
		if diff < -c.config.MaxBackwardJump {
			return time.Time{}, fmt.Errorf("%w: backward jump of %v (max %v)",
				datatypes.ErrClockInsane, -diff, c.config.MaxBackwardJump)
		}
		if diff > c.config.MaxForwardJump {
			return time.Time{}, fmt.Errorf("%w: forward jump of %v (max %v)",
				datatypes.ErrClockInsane, diff, c.config.MaxForwardJump)
		}
	}

	c.mu.Lock()
	c.lastGood = now
	c.haveCheck = true
	c.mu.Unlock()

	return now, nil
}

// Reset clears the jump baseline after a known legitimate time change.
func (c *Checker) Reset() {
	c.mu.Lock()
	c.haveCheck = false
	c.lastGood = time.Time{}
	c.mu.Unlock()

	slog.Info("tenancy.clock.jump_detection_reset")
}
