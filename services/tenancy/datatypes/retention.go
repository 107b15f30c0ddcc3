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

// DataCategory classifies tenant data for retention purposes.
type DataCategory string

const (
	CategoryAuditLog      DataCategory = "audit_log"
	CategoryPII           DataCategory = "pii"
	CategoryBackup        DataCategory = "backup"
	CategoryTransactional DataCategory = "transactional"
	CategoryLog           DataCategory = "log"
	CategoryUserActivity  DataCategory = "user_activity"
	CategoryUploadedFile  DataCategory = "uploaded_file"

	// CategoryNone marks a tenant-level policy that applies to every
	// category without its own override.
	CategoryNone DataCategory = ""
)

// AllCategories lists the categories the enforcer scans.
var AllCategories = []DataCategory{
	CategoryAuditLog,
	CategoryPII,
	CategoryBackup,
	CategoryTransactional,
	CategoryLog,
	CategoryUserActivity,
	CategoryUploadedFile,
}

// Valid reports whether c is a known category. CategoryNone is valid.
func (c DataCategory) Valid() bool {
	if c == CategoryNone {
		return true
	}
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// RetentionPolicy is one version of a tenant's retention rule. Policies are
// never deleted; a newer version sets SupersededAt on the one it replaces.
type RetentionPolicy struct {
	TenantID           string       `json:"tenant_id"`
	Category           DataCategory `json:"category,omitempty"`
	Version            int          `json:"version"`
	RetentionDays      int          `json:"retention_days" yaml:"retention_days" validate:"gte=1,lte=36500"`
	GraceDays          int          `json:"grace_days" yaml:"grace_days" validate:"gte=0,lte=3650"`
	HardDeleteEnforced bool         `json:"hard_delete_enforced" yaml:"hard_delete_enforced"`
	UpdatedBy          string       `json:"updated_by,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	SupersededAt       *time.Time   `json:"superseded_at,omitempty"`
}

// RetentionPeriod returns the retention period as a duration.
func (p RetentionPolicy) RetentionPeriod() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// GracePeriod returns the soft-delete grace period as a duration.
func (p RetentionPolicy) GracePeriod() time.Duration {
	return time.Duration(p.GraceDays) * 24 * time.Hour
}

// PolicySource records which level of the resolution order produced a policy.
type PolicySource string

const (
	PolicyFromCategory PolicySource = "category"
	PolicyFromTenant   PolicySource = "tenant"
	PolicyFromPlatform PolicySource = "platform"
)

// RetentionAction is what the enforcement job should do with a record.
type RetentionAction string

const (
	RetentionNone       RetentionAction = "none"
	RetentionSoftDelete RetentionAction = "soft_delete"
	RetentionHardDelete RetentionAction = "hard_delete"
)

// RetentionDecision is the result of evaluating a policy against a record.
type RetentionDecision struct {
	Action       RetentionAction `json:"action"`
	EligibleAt   time.Time       `json:"eligible_at"`
	HardDeleteAt time.Time       `json:"hard_delete_at"`
	Source       PolicySource    `json:"source"`
	Policy       RetentionPolicy `json:"policy"`
}

// RetainedRecord points at one tenant record subject to retention.
type RetainedRecord struct {
	TenantID      string       `json:"tenant_id"`
	Table         string       `json:"table"`
	RecordID      string       `json:"record_id"`
	Category      DataCategory `json:"category"`
	CreatedAt     time.Time    `json:"created_at"`
	SoftDeletedAt *time.Time   `json:"soft_deleted_at,omitempty"`
}
