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

import "time"

// ErasureStep identifies one step of the erasure pipeline. Steps are
// numbered from 1 in execution order.
type ErasureStep int

const (
	StepFreeze ErasureStep = iota + 1
	StepExportBackup
	StepCascadeDelete
	StepDropSchema
	StepPurgeCaches
	StepAuditFinalize
	StepFinalize
)

// ErasureStepCount is the number of pipeline steps.
const ErasureStepCount = int(StepFinalize)

var stepNames = map[ErasureStep]string{
	StepFreeze:        "freeze",
	StepExportBackup:  "export_backup",
	StepCascadeDelete: "cascade_delete",
	StepDropSchema:    "drop_schema",
	StepPurgeCaches:   "purge_caches",
	StepAuditFinalize: "audit_finalize",
	StepFinalize:      "finalize",
}

func (s ErasureStep) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErasureOutcome is the terminal (or current) result of an erasure job.
type ErasureOutcome string

const (
	OutcomeRunning   ErasureOutcome = "running"
	OutcomeSucceeded ErasureOutcome = "succeeded"
	OutcomeFailed    ErasureOutcome = "failed"
	OutcomeAborted   ErasureOutcome = "aborted"
)

// PackageRef points at an export package produced by the backup port.
type PackageRef struct {
	URI       string `json:"uri"`
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
	Tables    int    `json:"tables"`
}

// ErasureJob is the checkpoint of one erasure attempt for a tenant. A retry
// after a failure continues the same job from LastCompletedStep+1.
type ErasureJob struct {
	TenantID          string                 `json:"tenant_id"`
	CurrentStep       ErasureStep            `json:"current_step"`
	Completed         [ErasureStepCount]bool `json:"completed"`
	LastCompletedStep ErasureStep            `json:"last_completed_step"`
	Outcome           ErasureOutcome         `json:"outcome"`
	LastError         string                 `json:"last_error,omitempty"`
	Export            *PackageRef            `json:"export,omitempty"`
	Attempts          int                    `json:"attempts"`
	RequestedBy       string                 `json:"requested_by,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        *time.Time             `json:"finished_at,omitempty"`
}

// StepDone reports whether step has completed.
func (j ErasureJob) StepDone(step ErasureStep) bool {
	if step < StepFreeze || step > StepFinalize {
		return false
	}
	return j.Completed[step-1]
}

// MarkDone records step as complete and advances the checkpoint.
func (j *ErasureJob) MarkDone(step ErasureStep) {
	j.Completed[step-1] = true
	j.LastCompletedStep = step
}

// NextStep is the first step that has not completed, or 0 when all have.
func (j ErasureJob) NextStep() ErasureStep {
	for i := StepFreeze; i <= StepFinalize; i++ {
		if !j.Completed[i-1] {
			return i
		}
	}
	return 0
}
