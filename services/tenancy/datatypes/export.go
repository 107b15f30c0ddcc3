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

// ExportStatus is the state of a data-portability export.
type ExportStatus string

const (
	ExportQueued     ExportStatus = "QUEUED"
	ExportInProgress ExportStatus = "IN_PROGRESS"
	ExportCompleted  ExportStatus = "COMPLETED"
	ExportFailed     ExportStatus = "FAILED"
)

// Terminal reports whether the export has finished, successfully or not.
func (s ExportStatus) Terminal() bool {
	return s == ExportCompleted || s == ExportFailed
}

// ExportJob tracks one export of a tenant's data for the tenant itself.
// Unlike the erasure backup it leaves the tenant untouched.
type ExportJob struct {
	JobID       string       `json:"job_id"`
	TenantID    string       `json:"tenant_id"`
	Status      ExportStatus `json:"status"`
	Package     *PackageRef  `json:"package,omitempty"`
	Error       string       `json:"error,omitempty"`
	RequestedBy string       `json:"requested_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
