// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export hands tenants a copy of their own data.
//
// # Description
//
// An export job packages the tenant namespace through the backup port, the
// same archive format erasure keeps for legal hold, and records the job in
// the audit chain when it is requested and when it finishes. Exports never
// change tenant state. A tenant has at most one unfinished export; a
// request while one is queued or running returns that job.
//
// # Thread Safety
//
// Safe for concurrent use. Background jobs started with Start are tracked
// and Wait blocks until they finish.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/keylock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

var tracer = otel.Tracer("aleutian.tenancy.export")

// DefaultActor is recorded when a request names no requester.
const DefaultActor = "export-service"

// Store persists export jobs.
type Store interface {
	GetExportJob(ctx context.Context, tenantID, jobID string) (datatypes.ExportJob, bool, error)
	PutExportJob(ctx context.Context, j datatypes.ExportJob) error
	ListExportJobs(ctx context.Context, tenantID string) ([]datatypes.ExportJob, error)
}

// TenantReader looks up tenants.
type TenantReader interface {
	Get(ctx context.Context, tenantID string) (datatypes.Tenant, error)
}

// NamespaceResolver maps a tenant slug to its namespace.
type NamespaceResolver interface {
	Resolve(ctx context.Context, slug string) (datatypes.SchemaHandle, error)
}

// AuditAppender records export requests and results.
type AuditAppender interface {
	Append(ctx context.Context, tenantID *string, actor, action string, payload map[string]any) (datatypes.AuditEntry, error)
}

// Config wires a Service. Clock and Metrics are optional. A nil Backup
// makes every request fail with ErrBackupUnavailable.
type Config struct {
	Store   Store
	Tenants TenantReader
	Schemas NamespaceResolver
	Backup  ports.BackupPort
	Audit   AuditAppender
	Clock   ports.Clock
	Metrics *observability.Metrics
}

// Service runs data-portability exports.
type Service struct {
	store   Store
	tenants TenantReader
	schemas NamespaceResolver
	backup  ports.BackupPort
	audit   AuditAppender
	clock   ports.Clock
	metrics *observability.Metrics
	newID   func() string

	locks   keylock.Map
	running sync.WaitGroup
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		store:   cfg.Store,
		tenants: cfg.Tenants,
		schemas: cfg.Schemas,
		backup:  cfg.Backup,
		audit:   cfg.Audit,
		clock:   clk,
		metrics: cfg.Metrics,
		newID:   uuid.NewString,
	}
}

// Request queues an export of tenantID.
//
// # Description
//
// Only ACTIVE and SUSPENDED tenants can be exported. If the tenant already
// has a queued or running export that job is returned and nothing is
// written. Otherwise a QUEUED job is stored and export.requested appended
// to the audit chain. Request does not run the job; see Run and Start.
//
// # Outputs
//
//   - datatypes.ExportJob: The queued job.
//   - error: ErrBackupUnavailable, ErrNotFound, ErrNotExportable, or a
//     store/audit failure.
func (s *Service) Request(ctx context.Context, tenantID, requestedBy string) (datatypes.ExportJob, error) {
	if s.backup == nil {
		return datatypes.ExportJob{}, fmt.Errorf("export: tenant %s: %w", tenantID, datatypes.ErrBackupUnavailable)
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return datatypes.ExportJob{}, err
	}
	if tenant.Status != datatypes.StatusActive && tenant.Status != datatypes.StatusSuspended {
		return datatypes.ExportJob{}, fmt.Errorf("%w: tenant %s is %s", datatypes.ErrNotExportable, tenantID, tenant.Status)
	}
	if requestedBy == "" {
		requestedBy = DefaultActor
	}

	unlock := s.locks.Lock(tenantID)
	defer unlock()

	jobs, err := s.store.ListExportJobs(ctx, tenantID)
	if err != nil {
		return datatypes.ExportJob{}, fmt.Errorf("export: list jobs for %s: %w", tenantID, err)
	}
	for _, j := range jobs {
		if !j.Status.Terminal() {
			slog.Info("tenancy.export.already_pending", "tenant_id", tenantID, "job_id", j.JobID)
			return j, nil
		}
	}

	job := datatypes.ExportJob{
		JobID:       s.newID(),
		TenantID:    tenantID,
		Status:      datatypes.ExportQueued,
		RequestedBy: requestedBy,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.PutExportJob(ctx, job); err != nil {
		return datatypes.ExportJob{}, fmt.Errorf("export: store job for %s: %w", tenantID, err)
	}
	if _, err := s.audit.Append(ctx, &tenantID, requestedBy, datatypes.ActionDataExportRequested, map[string]any{
		"job_id": job.JobID,
	}); err != nil {
		job.Status = datatypes.ExportFailed
		job.Error = err.Error()
		_ = s.store.PutExportJob(context.WithoutCancel(ctx), job)
		return datatypes.ExportJob{}, fmt.Errorf("export: audit request for %s: %w", tenantID, err)
	}
	slog.Info("tenancy.export.requested", "tenant_id", tenantID, "job_id", job.JobID, "requested_by", requestedBy)
	return job, nil
}

// Run executes a queued job and stores its final status. A job that has
// already finished is returned unchanged. The returned error is the export
// failure, also recorded on the job.
func (s *Service) Run(ctx context.Context, tenantID, jobID string) (job datatypes.ExportJob, err error) {
	ctx, span := tracer.Start(ctx, "export.Run", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("export.job_id", jobID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	job, err = s.Get(ctx, tenantID, jobID)
	if err != nil {
		return job, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	// Results are stored even if the caller gives up mid-export.
	ctx = context.WithoutCancel(ctx)
	job.Status = datatypes.ExportInProgress
	if err := s.store.PutExportJob(ctx, job); err != nil {
		return job, fmt.Errorf("export: store job for %s: %w", tenantID, err)
	}

	ref, runErr := s.export(ctx, tenantID)
	now := s.clock.Now()
	job.CompletedAt = &now
	action := datatypes.ActionDataExportCompleted
	payload := map[string]any{"job_id": job.JobID}
	if runErr != nil {
		job.Status = datatypes.ExportFailed
		job.Error = runErr.Error()
		action = datatypes.ActionDataExportFailed
		payload["error"] = job.Error
	} else {
		job.Status = datatypes.ExportCompleted
		job.Package = &ref
		payload["uri"] = ref.URI
		payload["checksum"] = ref.Checksum
		payload["size_bytes"] = ref.SizeBytes
	}

	if err := s.store.PutExportJob(ctx, job); err != nil {
		return job, fmt.Errorf("export: store job for %s: %w", tenantID, err)
	}
	if _, err := s.audit.Append(ctx, &tenantID, job.RequestedBy, action, payload); err != nil {
		return job, fmt.Errorf("export: audit result for %s: %w", tenantID, err)
	}
	s.metrics.RecordExportJob(string(job.Status))

	if runErr != nil {
		slog.Warn("tenancy.export.failed", "tenant_id", tenantID, "job_id", jobID, "error", runErr)
		return job, runErr
	}
	slog.Info("tenancy.export.completed",
		"tenant_id", tenantID,
		"job_id", jobID,
		"uri", ref.URI,
		"size_bytes", ref.SizeBytes,
	)
	return job, nil
}

func (s *Service) export(ctx context.Context, tenantID string) (datatypes.PackageRef, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return datatypes.PackageRef{}, err
	}
	if tenant.Status != datatypes.StatusActive && tenant.Status != datatypes.StatusSuspended {
		return datatypes.PackageRef{}, fmt.Errorf("%w: tenant %s is %s", datatypes.ErrNotExportable, tenantID, tenant.Status)
	}
	handle, err := s.schemas.Resolve(ctx, tenant.Slug)
	if err != nil {
		return datatypes.PackageRef{}, fmt.Errorf("export: resolve namespace: %w", err)
	}
	return s.backup.ExportTenant(ctx, tenantID, handle.Namespace)
}

// Export requests and runs an export, returning once it has finished.
func (s *Service) Export(ctx context.Context, tenantID, requestedBy string) (datatypes.ExportJob, error) {
	job, err := s.Request(ctx, tenantID, requestedBy)
	if err != nil {
		return job, err
	}
	return s.Run(ctx, tenantID, job.JobID)
}

// Start requests an export and runs it in the background. The returned job
// is QUEUED, or the tenant's already pending job.
func (s *Service) Start(ctx context.Context, tenantID, requestedBy string) (datatypes.ExportJob, error) {
	job, err := s.Request(ctx, tenantID, requestedBy)
	if err != nil {
		return job, err
	}
	if job.Status != datatypes.ExportQueued {
		return job, nil
	}
	bg := context.WithoutCancel(ctx)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		_, _ = s.Run(bg, tenantID, job.JobID)
	}()
	return job, nil
}

// Wait blocks until every job started with Start has finished.
func (s *Service) Wait() {
	s.running.Wait()
}

// Get returns one export job.
func (s *Service) Get(ctx context.Context, tenantID, jobID string) (datatypes.ExportJob, error) {
	job, ok, err := s.store.GetExportJob(ctx, tenantID, jobID)
	if err != nil {
		return datatypes.ExportJob{}, fmt.Errorf("export: load job %s: %w", jobID, err)
	}
	if !ok {
		return datatypes.ExportJob{}, fmt.Errorf("export job %s for %s: %w", jobID, tenantID, datatypes.ErrNotFound)
	}
	return job, nil
}

// List returns tenantID's exports, oldest first.
func (s *Service) List(ctx context.Context, tenantID string) ([]datatypes.ExportJob, error) {
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListExportJobs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("export: list jobs for %s: %w", tenantID, err)
	}
	return jobs, nil
}
