// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package erasure implements the resumable right-to-erasure workflow.
//
// # Description
//
// Erasure runs seven steps strictly in order: freeze the tenant, export a
// backup package, cascade-delete tenant rows, drop the namespace, purge
// caches, record the completed erasure in the audit chain, and mark the
// tenant DELETED. Every step is checkpointed in an ErasureJob. A failed run
// returns a *datatypes.StepError and the next Run resumes at the failed
// step without repeating completed ones.
//
// # Cancellation
//
// The context is checked between steps only. A step that has started runs
// to completion or failure under a context that ignores cancellation.
//
// # Abort
//
// Checkpoint writes and Abort are serialized per tenant, and a checkpoint
// never overwrites an aborted job. A job aborted while a step runs keeps
// that step's progress and stops before the next one.
package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/keylock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/schema"
)

var tracer = otel.Tracer("aleutian.tenancy.erasure")

// DefaultActor is recorded on audit entries when Config.Actor is empty.
const DefaultActor = "erasure-pipeline"

// JobStore persists erasure checkpoints, one job per tenant.
type JobStore interface {
	GetJob(ctx context.Context, tenantID string) (datatypes.ErasureJob, bool, error)
	PutJob(ctx context.Context, j datatypes.ErasureJob) error
	ListJobs(ctx context.Context) ([]datatypes.ErasureJob, error)
}

// Lifecycle is the subset of the tenant state machine the pipeline drives.
type Lifecycle interface {
	Get(ctx context.Context, tenantID string) (datatypes.Tenant, error)
	EnsureStatus(ctx context.Context, tenantID string, target datatypes.TenantStatus, actor, reason string) (datatypes.Tenant, bool, error)
}

// SchemaManager resolves and drops tenant namespaces.
type SchemaManager interface {
	Resolve(ctx context.Context, slug string) (datatypes.SchemaHandle, error)
	Drop(ctx context.Context, handle datatypes.SchemaHandle) error
}

// AuditAppender records erasure progress.
type AuditAppender interface {
	Append(ctx context.Context, tenantID *string, actor, action string, payload map[string]any) (datatypes.AuditEntry, error)
}

// IntegrityGate reports whether destructive work must stop because the
// audit chain is broken.
type IntegrityGate interface {
	Check() error
}

// Config wires a Pipeline. Clock, Metrics, Actor and Gate are optional.
// A nil Backup refuses every run with ErrBackupUnavailable, since erasing
// without a retained export would lose the legal-hold copy.
type Config struct {
	Jobs      JobStore
	Lifecycle Lifecycle
	Schemas   SchemaManager
	Backend   ports.StorageBackend
	Backup    ports.BackupPort
	Cache     ports.CachePort
	Audit     AuditAppender
	Clock     ports.Clock
	Metrics   *observability.Metrics
	Actor     string
	Gate      IntegrityGate
}

// Pipeline runs erasure jobs.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Run calls for the same tenant share a
// single execution and its result.
type Pipeline struct {
	jobs      JobStore
	lifecycle Lifecycle
	schemas   SchemaManager
	backend   ports.StorageBackend
	backup    ports.BackupPort
	cache     ports.CachePort
	audit     AuditAppender
	clock     ports.Clock
	metrics   *observability.Metrics
	actor     string
	gate      IntegrityGate

	flight singleflight.Group
	locks  keylock.Map
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config) *Pipeline {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	actor := cfg.Actor
	if actor == "" {
		actor = DefaultActor
	}
	return &Pipeline{
		jobs:      cfg.Jobs,
		lifecycle: cfg.Lifecycle,
		schemas:   cfg.Schemas,
		backend:   cfg.Backend,
		backup:    cfg.Backup,
		cache:     cfg.Cache,
		audit:     cfg.Audit,
		clock:     clk,
		metrics:   cfg.Metrics,
		actor:     actor,
		gate:      cfg.Gate,
	}
}

// Run erases tenantID, resuming an earlier failed attempt if one exists.
//
// # Description
//
// A job that already succeeded is returned unchanged. An aborted job is
// not resumed. Otherwise the job's next incomplete step runs, then each
// following step, checkpointing after every one. Nothing runs while the
// integrity gate is closed or when no backup port is configured.
//
// # Outputs
//
//   - datatypes.ErasureJob: The checkpoint after this run.
//   - error: *datatypes.StepError (errors.Is ErrErasureStepFailed) when a
//     step fails; ErrErasureAborted; ErrNotFound for unknown tenants;
//     ErrChainIntegrityViolation while halted; ErrBackupUnavailable;
//     context errors when cancelled between steps; job store failures.
func (p *Pipeline) Run(ctx context.Context, tenantID string) (datatypes.ErasureJob, error) {
	return p.RunFor(ctx, tenantID, "")
}

// RunFor is Run on behalf of requestedBy. The requester is recorded on a
// new job and named in the freeze transition's reason; a resumed job
// keeps its original requester.
func (p *Pipeline) RunFor(ctx context.Context, tenantID, requestedBy string) (datatypes.ErasureJob, error) {
	v, err, shared := p.flight.Do(tenantID, func() (any, error) {
		return p.run(ctx, tenantID, requestedBy)
	})
	if shared {
		slog.Debug("tenancy.erasure.run_shared", "tenant_id", tenantID)
	}
	job, _ := v.(datatypes.ErasureJob)
	return job, err
}

func (p *Pipeline) run(ctx context.Context, tenantID, requestedBy string) (job datatypes.ErasureJob, err error) {
	ctx, span := tracer.Start(ctx, "erasure.Run",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	job, found, err := p.jobs.GetJob(ctx, tenantID)
	if err != nil {
		return datatypes.ErasureJob{}, fmt.Errorf("erasure: load job for %s: %w", tenantID, err)
	}
	switch {
	case found && job.Outcome == datatypes.OutcomeSucceeded:
		return job, nil
	case found && job.Outcome == datatypes.OutcomeAborted:
		return job, fmt.Errorf("erasure: tenant %s: %w", tenantID, datatypes.ErrErasureAborted)
	case p.backup == nil:
		return job, fmt.Errorf("erasure: tenant %s: %w", tenantID, datatypes.ErrBackupUnavailable)
	}
	if err := p.gateErr(); err != nil {
		return job, fmt.Errorf("erasure: tenant %s: %w", tenantID, err)
	}

	tenant, err := p.lifecycle.Get(ctx, tenantID)
	if err != nil {
		return job, err
	}

	if !found {
		job = datatypes.ErasureJob{
			TenantID:    tenantID,
			StartedAt:   p.clock.Now(),
			RequestedBy: requestedBy,
		}
	}
	job.Attempts++
	job.Outcome = datatypes.OutcomeRunning
	job.LastError = ""
	if err := p.checkpoint(ctx, &job); err != nil {
		return p.stopped(ctx, job, err)
	}

	span.SetAttributes(
		attribute.Int("erasure.attempt", job.Attempts),
		attribute.Int("erasure.resume_from", int(job.NextStep())),
	)
	slog.Info("tenancy.erasure.started",
		"tenant_id", tenantID,
		"attempt", job.Attempts,
		"resume_from", job.NextStep().String(),
	)

	for step := job.NextStep(); step != 0; step = job.NextStep() {
		if err := p.checkContinue(ctx, tenantID); err != nil {
			return p.fail(ctx, job, err)
		}

		job.CurrentStep = step
		if err := p.checkpoint(ctx, &job); err != nil {
			return p.stopped(ctx, job, err)
		}

		if err := p.runStep(context.WithoutCancel(ctx), tenant, &job, step); err != nil {
			stepErr := &datatypes.StepError{
				TenantID:          tenantID,
				Step:              step,
				LastCompletedStep: job.LastCompletedStep,
				Err:               err,
			}
			return p.fail(ctx, job, stepErr)
		}

		job.MarkDone(step)
		if err := p.checkpoint(ctx, &job); err != nil {
			return p.stopped(ctx, job, err)
		}
	}

	finished := p.clock.Now()
	job.Outcome = datatypes.OutcomeSucceeded
	job.FinishedAt = &finished
	job.CurrentStep = datatypes.StepFinalize
	if err := p.checkpoint(ctx, &job); err != nil {
		return job, err
	}
	p.metrics.RecordErasureJob(string(datatypes.OutcomeSucceeded))
	slog.Info("tenancy.erasure.completed",
		"tenant_id", tenantID,
		"attempts", job.Attempts,
		"export_uri", job.Export.URI,
	)
	return job, nil
}

// checkpoint stores job unless the stored copy was aborted since it was
// read. An aborted job keeps its outcome, reason and finish time, takes
// job's step progress, and ErrErasureAborted is returned. Once every step
// has completed the erasure has happened and the success is stored over a
// late abort.
func (p *Pipeline) checkpoint(ctx context.Context, job *datatypes.ErasureJob) error {
	ctx = context.WithoutCancel(ctx)
	unlock := p.locks.Lock(job.TenantID)
	defer unlock()

	stored, ok, err := p.jobs.GetJob(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("erasure: reload job for %s: %w", job.TenantID, err)
	}
	aborted := ok && stored.Outcome == datatypes.OutcomeAborted
	switch {
	case aborted && job.NextStep() == 0:
		slog.Warn("tenancy.erasure.abort_superseded",
			"tenant_id", job.TenantID,
			"reason", stored.LastError,
		)
	case aborted:
		job.Outcome = stored.Outcome
		job.FinishedAt = stored.FinishedAt
		job.LastError = stored.LastError
		if err := p.jobs.PutJob(ctx, *job); err != nil {
			return fmt.Errorf("erasure: checkpoint %s: %w", job.TenantID, err)
		}
		return fmt.Errorf("erasure: tenant %s: %w", job.TenantID, datatypes.ErrErasureAborted)
	}
	if err := p.jobs.PutJob(ctx, *job); err != nil {
		return fmt.Errorf("erasure: checkpoint %s: %w", job.TenantID, err)
	}
	return nil
}

// stopped ends a run whose checkpoint failed: an abort is reported through
// fail, a store error is returned as is.
func (p *Pipeline) stopped(ctx context.Context, job datatypes.ErasureJob, err error) (datatypes.ErasureJob, error) {
	if errors.Is(err, datatypes.ErrErasureAborted) {
		return p.fail(ctx, job, err)
	}
	return job, err
}

func (p *Pipeline) gateErr() error {
	if p.gate == nil {
		return nil
	}
	return p.gate.Check()
}

// checkContinue stops the run when ctx is done, the integrity gate closed
// or the job was aborted.
func (p *Pipeline) checkContinue(ctx context.Context, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.gateErr(); err != nil {
		return err
	}
	current, ok, err := p.jobs.GetJob(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("erasure: reload job for %s: %w", tenantID, err)
	}
	if ok && current.Outcome == datatypes.OutcomeAborted {
		return fmt.Errorf("erasure: tenant %s: %w", tenantID, datatypes.ErrErasureAborted)
	}
	return nil
}

// fail checkpoints a failed run and returns cause.
func (p *Pipeline) fail(ctx context.Context, job datatypes.ErasureJob, cause error) (datatypes.ErasureJob, error) {
	if errors.Is(cause, datatypes.ErrErasureAborted) {
		p.metrics.RecordErasureJob(string(datatypes.OutcomeAborted))
		latest, ok, err := p.jobs.GetJob(context.WithoutCancel(ctx), job.TenantID)
		if err == nil && ok {
			return latest, cause
		}
		return job, cause
	}

	job.Outcome = datatypes.OutcomeFailed
	job.LastError = cause.Error()
	if err := p.checkpoint(ctx, &job); err != nil {
		if errors.Is(err, datatypes.ErrErasureAborted) {
			p.metrics.RecordErasureJob(string(datatypes.OutcomeAborted))
			return job, errors.Join(cause, err)
		}
		slog.Error("tenancy.erasure.checkpoint_failed", "tenant_id", job.TenantID, "error", err)
		cause = errors.Join(cause, err)
	}
	p.metrics.RecordErasureJob(string(datatypes.OutcomeFailed))
	slog.Warn("tenancy.erasure.failed",
		"tenant_id", job.TenantID,
		"step", job.CurrentStep.String(),
		"last_completed_step", int(job.LastCompletedStep),
		"error", cause,
	)
	return job, cause
}

// Status returns the checkpoint for tenantID.
func (p *Pipeline) Status(ctx context.Context, tenantID string) (datatypes.ErasureJob, error) {
	job, ok, err := p.jobs.GetJob(ctx, tenantID)
	if err != nil {
		return datatypes.ErasureJob{}, fmt.Errorf("erasure: load job for %s: %w", tenantID, err)
	}
	if !ok {
		return datatypes.ErasureJob{}, fmt.Errorf("erasure job for %s: %w", tenantID, datatypes.ErrNotFound)
	}
	return job, nil
}

// Abort marks the job aborted so it is never resumed. A running job stops
// before its next step; the step in flight completes and its progress is
// kept. Aborting a finished job is an error.
func (p *Pipeline) Abort(ctx context.Context, tenantID, reason string) (datatypes.ErasureJob, error) {
	unlock := p.locks.Lock(tenantID)
	defer unlock()

	job, err := p.Status(ctx, tenantID)
	if err != nil {
		return job, err
	}
	switch job.Outcome {
	case datatypes.OutcomeSucceeded:
		return job, fmt.Errorf("erasure: tenant %s already erased", tenantID)
	case datatypes.OutcomeAborted:
		return job, nil
	}

	now := p.clock.Now()
	job.Outcome = datatypes.OutcomeAborted
	job.FinishedAt = &now
	job.LastError = reason
	if err := p.jobs.PutJob(ctx, job); err != nil {
		return job, fmt.Errorf("erasure: checkpoint %s: %w", tenantID, err)
	}
	slog.Warn("tenancy.erasure.aborted",
		"tenant_id", tenantID,
		"last_completed_step", int(job.LastCompletedStep),
		"reason", reason,
	)
	return job, nil
}

// ResumePending re-runs every failed or interrupted job.
//
// # Outputs
//
//   - int: Jobs that completed during this call.
//   - error: Job listing failure or context cancellation. Individual job
//     failures are logged and checkpointed, not returned.
func (p *Pipeline) ResumePending(ctx context.Context) (int, error) {
	if err := p.gateErr(); err != nil {
		return 0, fmt.Errorf("erasure: resume: %w", err)
	}
	jobs, err := p.jobs.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("erasure: list jobs: %w", err)
	}

	completed := 0
	for _, j := range jobs {
		if j.Outcome != datatypes.OutcomeFailed && j.Outcome != datatypes.OutcomeRunning {
			continue
		}
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if _, err := p.Run(ctx, j.TenantID); err != nil {
			slog.Warn("tenancy.erasure.resume_failed", "tenant_id", j.TenantID, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

// namespaceOf resolves the tenant's namespace, falling back to the derived
// name when no handle was ever registered.
func (p *Pipeline) namespaceOf(ctx context.Context, t datatypes.Tenant) (datatypes.SchemaHandle, bool, error) {
	h, err := p.schemas.Resolve(ctx, t.Slug)
	if err == nil {
		return h, true, nil
	}
	if !errors.Is(err, datatypes.ErrNotFound) {
		return datatypes.SchemaHandle{}, false, err
	}
	ns, nsErr := schema.NamespaceFor(t.Slug)
	if nsErr != nil {
		return datatypes.SchemaHandle{}, false, nsErr
	}
	return datatypes.SchemaHandle{Slug: t.Slug, Namespace: ns, State: datatypes.SchemaAbsent}, false, nil
}

func since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
