// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// runStep executes one step under its own span and records metrics.
func (p *Pipeline) runStep(ctx context.Context, t datatypes.Tenant, job *datatypes.ErasureJob, step datatypes.ErasureStep) error {
	ctx, span := tracer.Start(ctx, "erasure."+step.String(),
		trace.WithAttributes(
			attribute.String("tenant.id", t.ID),
			attribute.Int("erasure.step", int(step)),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	switch step {
	case datatypes.StepFreeze:
		err = p.freeze(ctx, t, job.RequestedBy)
	case datatypes.StepExportBackup:
		err = p.exportBackup(ctx, t, job)
	case datatypes.StepCascadeDelete:
		err = p.cascadeDelete(ctx, t)
	case datatypes.StepDropSchema:
		err = p.dropSchema(ctx, t)
	case datatypes.StepPurgeCaches:
		err = p.purgeCaches(ctx, t)
	case datatypes.StepAuditFinalize:
		err = p.auditFinalize(ctx, t, job)
	case datatypes.StepFinalize:
		err = p.finalize(ctx, t)
	default:
		err = fmt.Errorf("unknown erasure step %d", step)
	}

	p.metrics.RecordErasureStep(step.String(), since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	slog.Info("tenancy.erasure.step_completed",
		"tenant_id", t.ID,
		"step", step.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Step 1.
func (p *Pipeline) freeze(ctx context.Context, t datatypes.Tenant, requestedBy string) error {
	reason := "erasure requested"
	if requestedBy != "" {
		reason += " by " + requestedBy
	}
	_, _, err := p.lifecycle.EnsureStatus(ctx, t.ID, datatypes.StatusDeprovisioning, p.actor, reason)
	return err
}

// Step 2.
func (p *Pipeline) exportBackup(ctx context.Context, t datatypes.Tenant, job *datatypes.ErasureJob) error {
	handle, _, err := p.namespaceOf(ctx, t)
	if err != nil {
		return err
	}
	ref, err := p.backup.ExportTenant(ctx, t.ID, handle.Namespace)
	if err != nil {
		return fmt.Errorf("export tenant: %w", err)
	}
	if ref.Checksum == "" {
		return errors.New("export tenant: backup port returned no checksum")
	}
	job.Export = &ref
	return p.appendAudit(ctx, t.ID, datatypes.ActionErasureExportCreated, map[string]any{
		"uri":        ref.URI,
		"checksum":   ref.Checksum,
		"size_bytes": ref.SizeBytes,
	})
}

// Step 3.
func (p *Pipeline) cascadeDelete(ctx context.Context, t datatypes.Tenant) error {
	handle, _, err := p.namespaceOf(ctx, t)
	if err != nil {
		return err
	}
	remaining, err := p.backend.CascadeDeleteTenantData(ctx, t.ID, handle.Namespace)
	if err != nil {
		return fmt.Errorf("cascade delete: %w", err)
	}
	if remaining > 0 {
		return fmt.Errorf("cascade delete: %d rows remain in %s", remaining, handle.Namespace)
	}
	return p.appendAudit(ctx, t.ID, datatypes.ActionErasureDataDeleted, map[string]any{
		"namespace": handle.Namespace,
	})
}

// Step 4.
func (p *Pipeline) dropSchema(ctx context.Context, t datatypes.Tenant) error {
	handle, registered, err := p.namespaceOf(ctx, t)
	if err != nil {
		return err
	}
	if registered {
		if err := p.schemas.Drop(ctx, handle); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	return p.appendAudit(ctx, t.ID, datatypes.ActionErasureSchemaDropped, map[string]any{
		"namespace":  handle.Namespace,
		"registered": registered,
	})
}

// Step 5.
func (p *Pipeline) purgeCaches(ctx context.Context, t datatypes.Tenant) error {
	if err := p.cache.PurgeTenant(ctx, t.ID); err != nil {
		return fmt.Errorf("purge caches: %w", err)
	}
	return p.appendAudit(ctx, t.ID, datatypes.ActionErasureCachesPurged, nil)
}

// Step 6.
func (p *Pipeline) auditFinalize(ctx context.Context, t datatypes.Tenant, job *datatypes.ErasureJob) error {
	if job.Export == nil {
		return errors.New("audit finalize: no export package recorded")
	}
	payload := map[string]any{
		"export_uri":      job.Export.URI,
		"export_checksum": job.Export.Checksum,
		"attempts":        job.Attempts,
	}
	if job.RequestedBy != "" {
		payload["requested_by"] = job.RequestedBy
	}
	return p.appendAudit(ctx, t.ID, datatypes.ActionErasureCompleted, payload)
}

// Step 7.
func (p *Pipeline) finalize(ctx context.Context, t datatypes.Tenant) error {
	_, _, err := p.lifecycle.EnsureStatus(ctx, t.ID, datatypes.StatusDeleted, p.actor, "erasure completed")
	return err
}

func (p *Pipeline) appendAudit(ctx context.Context, tenantID, action string, payload map[string]any) error {
	if _, err := p.audit.Append(ctx, &tenantID, p.actor, action, payload); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
