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

// Audit action codes written by the tenancy services.
const (
	ActionTenantCreated      = "tenant.created"
	ActionTenantTransitioned = "tenant.transitioned"

	ActionErasureExportCreated = "erasure.export_created"
	ActionErasureDataDeleted   = "erasure.data_deleted"
	ActionErasureSchemaDropped = "erasure.schema_dropped"
	ActionErasureCachesPurged  = "erasure.caches_purged"
	ActionErasureCompleted     = "erasure.completed"

	ActionRetentionPolicySet  = "retention.policy_set"
	ActionRetentionSoftDelete = "retention.soft_deleted"
	ActionRetentionHardDelete = "retention.hard_deleted"

	ActionCostAnomalyDetected = "cost.anomaly_detected"

	ActionDataExportRequested = "export.requested"
	ActionDataExportCompleted = "export.completed"
	ActionDataExportFailed    = "export.failed"

	ActionAuditHaltCleared = "audit.halt_cleared"
)

// AuditEntry is one immutable link of the audit hash chain.
//
// TenantID is nil for platform-level events. Hash covers every other field
// plus PrevHash, so editing any stored field breaks verification at this
// entry's Sequence.
type AuditEntry struct {
	Sequence  int64          `json:"sequence"`
	TenantID  *string        `json:"tenant_id,omitempty"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// TenantIDValue returns the tenant id or "" for platform events.
func (e AuditEntry) TenantIDValue() string {
	if e.TenantID == nil {
		return ""
	}
	return *e.TenantID
}

// AuditFilter narrows an audit query. Nil fields do not filter.
// From is inclusive and To is exclusive.
type AuditFilter struct {
	TenantID *string
	From     *time.Time
	To       *time.Time
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.TenantID != nil && (e.TenantID == nil || *e.TenantID != *f.TenantID) {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	return true
}

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	BrokenAtSeq *int64 `json:"broken_at_seq,omitempty"`
	FromSeq     int64  `json:"from_seq"`
	ToSeq       int64  `json:"to_seq"`
	Checked     int64  `json:"checked"`
}

// Err returns a ChainError when verification failed and nil otherwise.
func (r VerifyResult) Err() error {
	if r.Valid || r.BrokenAtSeq == nil {
		return nil
	}
	return &ChainError{BrokenAtSeq: *r.BrokenAtSeq}
}

// StringPtr is a convenience for optional tenant ids.
func StringPtr(s string) *string {
	return &s
}
