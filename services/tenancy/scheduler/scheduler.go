// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs the periodic compliance jobs: retention
// enforcement, erasure resumption, cost anomaly scans and audit chain
// verification.
//
// A failed chain verification trips the integrity latch. While it is set
// the retention and erasure tasks are skipped and report an error wrapping
// ErrChainIntegrityViolation; anomaly scans and verification keep running.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/retention"
)

// Task names.
const (
	TaskRetention = "retention"
	TaskErasure   = "erasure_resume"
	TaskAnomaly   = "anomaly_scan"
	TaskVerify    = "chain_verify"
)

// =============================================================================
// Dependencies
// =============================================================================

// RetentionRunner runs one retention sweep.
type RetentionRunner interface {
	RunOnce(ctx context.Context) (retention.Report, error)
}

// ErasureResumer retries interrupted erasure jobs.
type ErasureResumer interface {
	ResumePending(ctx context.Context) (int, error)
}

// AnomalyScanner scans every active tenant for cost anomalies.
type AnomalyScanner interface {
	ScanAll(ctx context.Context, tenants anomaly.TenantLister) (int, error)
}

// ChainVerifier checks the audit hash chain.
type ChainVerifier interface {
	Verify(ctx context.Context, fromSeq, toSeq int64) (datatypes.VerifyResult, error)
}

// Config holds per-task intervals. A zero interval disables the task's
// periodic loop; RunNow still runs every task that has a dependency.
type Config struct {
	RetentionInterval time.Duration `yaml:"retention_interval"`
	ErasureInterval   time.Duration `yaml:"erasure_interval"`
	AnomalyInterval   time.Duration `yaml:"anomaly_interval"`
	VerifyInterval    time.Duration `yaml:"verify_interval"`
}

// DefaultConfig returns production intervals.
//
// # Description
//
// Retention runs hourly, erasure resumption every five minutes, anomaly
// scans daily and chain verification every six hours.
func DefaultConfig() Config {
	return Config{
		RetentionInterval: time.Hour,
		ErasureInterval:   5 * time.Minute,
		AnomalyInterval:   24 * time.Hour,
		VerifyInterval:    6 * time.Hour,
	}
}

// Deps are the jobs the scheduler drives. Nil entries are skipped.
type Deps struct {
	Retention RetentionRunner
	Erasure   ErasureResumer
	Anomaly   AnomalyScanner
	Tenants   anomaly.TenantLister
	Chain     ChainVerifier
	RunLog    *RunLog

	// Halt is the integrity latch shared with the services. Nil gives the
	// scheduler a private latch.
	Halt *audit.Halt
}

// CycleResult summarizes one task execution.
type CycleResult struct {
	Task      string         `json:"task"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Summary   map[string]any `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DurationMs returns the task duration in milliseconds.
func (r CycleResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// =============================================================================
// Scheduler
// =============================================================================

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (map[string]any, error)
}

// Scheduler manages the background goroutines, one per enabled task.
//
// # Description
//
// Each loop runs its task immediately on start and then on a ticker until
// Stop is called or the start context is cancelled. Task failures are
// logged and never stop the loop.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	deps   Deps
	config Config
	tasks  []task

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(deps Deps, config Config) *Scheduler {
	if deps.Halt == nil {
		deps.Halt = &audit.Halt{}
	}
	s := &Scheduler{deps: deps, config: config}

	// Verification runs first so RunNow halts destructive tasks in the same
	// pass that found the violation.
	if deps.Chain != nil {
		s.tasks = append(s.tasks, task{TaskVerify, config.VerifyInterval, s.runVerify})
	}
	if deps.Retention != nil {
		s.tasks = append(s.tasks, task{TaskRetention, config.RetentionInterval, s.runRetention})
	}
	if deps.Erasure != nil {
		s.tasks = append(s.tasks, task{TaskErasure, config.ErasureInterval, s.runErasure})
	}
	if deps.Anomaly != nil && deps.Tenants != nil {
		s.tasks = append(s.tasks, task{TaskAnomaly, config.AnomalyInterval, s.runAnomaly})
	}
	return s
}

// Start launches the task loops.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	for _, t := range s.tasks {
		if t.interval <= 0 {
			slog.Info("tenancy.scheduler.task_disabled", "task", t.name)
			continue
		}
		slog.Info("tenancy.scheduler.task_started", "task", t.name, "interval", t.interval.String())
		s.wg.Add(1)
		go s.runLoop(ctx, t, s.done)
	}
	return nil
}

// Stop signals every loop to exit and waits for in-flight cycles to
// finish. Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	slog.Info("tenancy.scheduler.stopping")
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Halt returns the integrity latch the scheduler honours.
func (s *Scheduler) Halt() *audit.Halt {
	return s.deps.Halt
}

// RunNow executes every task once, in order, and returns their results.
func (s *Scheduler) RunNow(ctx context.Context) []CycleResult {
	results := make([]CycleResult, 0, len(s.tasks))
	for _, t := range s.tasks {
		results = append(results, s.execute(ctx, t))
	}
	return results
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *Scheduler) runLoop(ctx context.Context, t task, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	s.execute(ctx, t)

	for {
		select {
		case <-ctx.Done():
			slog.Info("tenancy.scheduler.task_stopped", "task", t.name, "reason", "context cancelled")
			return
		case <-done:
			slog.Info("tenancy.scheduler.task_stopped", "task", t.name, "reason", "stop requested")
			return
		case <-ticker.C:
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t task) CycleResult {
	result := CycleResult{Task: t.name, StartTime: time.Now()}
	summary, err := t.run(ctx)
	result.EndTime = time.Now()
	result.Summary = summary

	if err != nil {
		result.Error = err.Error()
		slog.Error("tenancy.scheduler.cycle_failed", "task", t.name, "error", err)
	} else {
		slog.Info("tenancy.scheduler.cycle_completed", "task", t.name, "duration_ms", result.DurationMs())
	}

	if s.deps.RunLog != nil {
		if logErr := s.deps.RunLog.Write(result); logErr != nil {
			slog.Warn("tenancy.scheduler.runlog_failed", "error", logErr)
		}
	}
	return result
}

// halted reports the latch as a skipped cycle.
func (s *Scheduler) halted() (map[string]any, error) {
	if err := s.deps.Halt.Check(); err != nil {
		return map[string]any{"skipped": "integrity_halt"}, err
	}
	return nil, nil
}

func (s *Scheduler) runRetention(ctx context.Context) (map[string]any, error) {
	if summary, err := s.halted(); err != nil {
		return summary, err
	}
	report, err := s.deps.Retention.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	summary := map[string]any{
		"tenants_scanned": report.TenantsScanned,
		"records_scanned": report.RecordsScanned,
		"soft_deleted":    report.SoftDeleted,
		"hard_deleted":    report.HardDeleted,
		"failures":        len(report.Failures),
	}
	if len(report.Failures) > 0 {
		return summary, fmt.Errorf("retention failed for %d tenants", len(report.Failures))
	}
	return summary, nil
}

func (s *Scheduler) runErasure(ctx context.Context) (map[string]any, error) {
	if summary, err := s.halted(); err != nil {
		return summary, err
	}
	n, err := s.deps.Erasure.ResumePending(ctx)
	return map[string]any{"resumed": n}, err
}

func (s *Scheduler) runAnomaly(ctx context.Context) (map[string]any, error) {
	n, err := s.deps.Anomaly.ScanAll(ctx, s.deps.Tenants)
	return map[string]any{"anomalies": n}, err
}

func (s *Scheduler) runVerify(ctx context.Context) (map[string]any, error) {
	result, err := s.deps.Chain.Verify(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	summary := map[string]any{"valid": result.Valid, "checked": result.Checked}
	if err := result.Err(); err != nil {
		summary["broken_at_seq"] = *result.BrokenAtSeq
		s.deps.Halt.Trip(*result.BrokenAtSeq, time.Now())
		return summary, err
	}
	return summary, nil
}
