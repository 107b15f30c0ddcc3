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
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrInvalidTransition is returned when a requested state change is not
	// in the transition table. Not retryable.
	ErrInvalidTransition = errors.New("invalid tenant transition")

	// ErrProvisioningFailed is returned when namespace creation fails during
	// PENDING→PROVISIONING. The tenant stays PENDING; callers may retry.
	ErrProvisioningFailed = errors.New("tenant provisioning failed")

	// ErrTeardownFailed is returned when namespace removal fails during
	// DEPROVISIONING→DELETED. The tenant stays DEPROVISIONING.
	ErrTeardownFailed = errors.New("tenant teardown failed")

	// ErrSlugCollision is returned when two distinct slugs sanitize to the
	// same namespace name.
	ErrSlugCollision = errors.New("slug collides with an existing namespace")

	// ErrSchemaGone is returned when creating a namespace that was dropped.
	// Dropped namespaces are never reused.
	ErrSchemaGone = errors.New("namespace was dropped and cannot be reused")

	// ErrNotFound is returned when a tenant, handle, policy or job is absent.
	ErrNotFound = errors.New("not found")

	// ErrTenantExists is returned when creating a tenant with a taken slug.
	ErrTenantExists = errors.New("tenant already exists")

	// ErrInvalidSlug is returned for slugs that fail validation.
	ErrInvalidSlug = errors.New("invalid tenant slug")

	// ErrErasureStepFailed is returned when an erasure step fails. The job is
	// checkpointed and re-running resumes at the failed step.
	ErrErasureStepFailed = errors.New("erasure step failed")

	// ErrErasureAborted is returned when running an aborted erasure job.
	ErrErasureAborted = errors.New("erasure job aborted")

	// ErrChainIntegrityViolation is returned when audit verification finds a
	// hash mismatch. Dependent automation must halt; never auto-repaired.
	ErrChainIntegrityViolation = errors.New("audit chain integrity violation")

	// ErrAutomationHalted is returned by destructive work refused while a
	// chain violation is latched. It is joined with the *ChainError.
	ErrAutomationHalted = errors.New("automation halted")

	// ErrBackupUnavailable is returned when erasure or export has no backup
	// store to write the tenant package to.
	ErrBackupUnavailable = errors.New("backup store unavailable")

	// ErrNotExportable is returned when a data export is requested for a
	// tenant whose namespace is not live.
	ErrNotExportable = errors.New("tenant cannot be exported in its current status")

	// ErrClockInsane is returned when the system clock fails sanity checks.
	ErrClockInsane = errors.New("system clock failed sanity check")
)

// =============================================================================
// Structured Errors
// =============================================================================

// TransitionError reports a lifecycle transition failure with the state the
// tenant remains in.
type TransitionError struct {
	TenantID string
	From     TenantStatus
	To       TenantStatus
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("tenant %s: %s -> %s: %v", e.TenantID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// SchemaError reports a namespace naming or existence conflict.
type SchemaError struct {
	Slug      string
	Namespace string
	Err       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s (slug %q): %v", e.Namespace, e.Slug, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// StepError reports an erasure step failure. LastCompletedStep is the
// furthest checkpoint, 0 when nothing completed.
type StepError struct {
	TenantID          string
	Step              ErasureStep
	LastCompletedStep ErasureStep
	Err               error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("erasure of tenant %s failed at step %d (%s), last completed step %d: %v",
		e.TenantID, e.Step, e.Step, e.LastCompletedStep, e.Err)
}

// Unwrap exposes both the step sentinel and the underlying cause.
func (e *StepError) Unwrap() []error {
	return []error{ErrErasureStepFailed, e.Err}
}

// ChainError reports the first broken link found by verification.
type ChainError struct {
	BrokenAtSeq int64
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d", e.BrokenAtSeq)
}

func (e *ChainError) Unwrap() error {
	return ErrChainIntegrityViolation
}
