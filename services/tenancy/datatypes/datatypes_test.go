// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredErrors_Is(t *testing.T) {
	cause := errors.New("connection reset")

	transition := error(&TransitionError{TenantID: "t1", From: StatusPending, To: StatusProvisioning, Err: ErrProvisioningFailed})
	assert.ErrorIs(t, transition, ErrProvisioningFailed)
	assert.Contains(t, transition.Error(), "PENDING -> PROVISIONING")

	schema := error(&SchemaError{Slug: "Acme", Namespace: "tenant_acme", Err: ErrSlugCollision})
	assert.ErrorIs(t, schema, ErrSlugCollision)

	step := error(&StepError{TenantID: "t1", Step: StepPurgeCaches, LastCompletedStep: StepDropSchema, Err: cause})
	assert.ErrorIs(t, step, ErrErasureStepFailed)
	assert.ErrorIs(t, step, cause)
	assert.Contains(t, step.Error(), "purge_caches")

	var se *StepError
	require.ErrorAs(t, step, &se)
	assert.Equal(t, StepDropSchema, se.LastCompletedStep)

	chain := error(&ChainError{BrokenAtSeq: 7})
	assert.ErrorIs(t, chain, ErrChainIntegrityViolation)
}

func TestVerifyResult_Err(t *testing.T) {
	assert.NoError(t, VerifyResult{Valid: true}.Err())

	seq := int64(3)
	err := VerifyResult{Valid: false, BrokenAtSeq: &seq}.Err()
	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(3), ce.BrokenAtSeq)
}

func TestAuditFilter_Matches(t *testing.T) {
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	entry := AuditEntry{TenantID: StringPtr("t1"), Timestamp: base}
	platform := AuditEntry{Timestamp: base}

	from, to := base, base.Add(time.Hour)
	assert.True(t, AuditFilter{}.Matches(platform))
	assert.True(t, AuditFilter{TenantID: StringPtr("t1")}.Matches(entry))
	assert.False(t, AuditFilter{TenantID: StringPtr("t2")}.Matches(entry))
	assert.False(t, AuditFilter{TenantID: StringPtr("t1")}.Matches(platform))
	assert.True(t, AuditFilter{From: &from, To: &to}.Matches(entry), "from is inclusive")
	assert.False(t, AuditFilter{To: &from}.Matches(entry), "to is exclusive")
	assert.Equal(t, "", platform.TenantIDValue())
}

func TestErasureJob_Checkpoints(t *testing.T) {
	var job ErasureJob
	assert.Equal(t, StepFreeze, job.NextStep())
	assert.False(t, job.StepDone(0))

	job.MarkDone(StepFreeze)
	job.MarkDone(StepExportBackup)
	assert.True(t, job.StepDone(StepExportBackup))
	assert.Equal(t, StepExportBackup, job.LastCompletedStep)
	assert.Equal(t, StepCascadeDelete, job.NextStep())

	for s := StepCascadeDelete; s <= StepFinalize; s++ {
		job.MarkDone(s)
	}
	assert.Equal(t, ErasureStep(0), job.NextStep())
	assert.Equal(t, "unknown", ErasureStep(42).String())
}

func TestStatusAndCategoryValidity(t *testing.T) {
	assert.True(t, StatusDeleted.Valid())
	assert.True(t, StatusDeleted.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, TenantStatus("ARCHIVED").Valid())

	assert.True(t, CategoryNone.Valid(), "empty category is the tenant-level policy")
	assert.True(t, CategoryLog.Valid())
	assert.False(t, DataCategory("gossip").Valid())
}
