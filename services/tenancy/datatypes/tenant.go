// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the records shared by the tenancy services: tenants,
// schema handles, audit entries, retention policies, cost records and erasure
// jobs, plus the error taxonomy every component reports through.
package datatypes

import "time"

// TenantStatus is a state of the tenant lifecycle state machine.
type TenantStatus string

const (
	StatusPending        TenantStatus = "PENDING"
	StatusProvisioning   TenantStatus = "PROVISIONING"
	StatusActive         TenantStatus = "ACTIVE"
	StatusSuspended      TenantStatus = "SUSPENDED"
	StatusDeprovisioning TenantStatus = "DEPROVISIONING"
	StatusDeleted        TenantStatus = "DELETED"
)

// AllStatuses lists every lifecycle state in declaration order.
var AllStatuses = []TenantStatus{
	StatusPending,
	StatusProvisioning,
	StatusActive,
	StatusSuspended,
	StatusDeprovisioning,
	StatusDeleted,
}

// Valid reports whether s is a known lifecycle state.
func (s TenantStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s TenantStatus) Terminal() bool {
	return s == StatusDeleted
}

// Tenant is an isolated customer account. A DELETED tenant stays in the
// registry as a tombstone after its physical data is gone.
type Tenant struct {
	ID               string       `json:"id"`
	Slug             string       `json:"slug"`
	Status           TenantStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ActivatedAt      *time.Time   `json:"activated_at,omitempty"`
	SuspensionReason string       `json:"suspension_reason,omitempty"`
	DeletedAt        *time.Time   `json:"deleted_at,omitempty"`
}

// SchemaState is the existence state of a tenant namespace.
type SchemaState string

const (
	SchemaAbsent  SchemaState = "absent"
	SchemaPresent SchemaState = "present"
	SchemaDropped SchemaState = "dropped"
)

// SchemaHandle maps a tenant slug to its physical namespace.
type SchemaHandle struct {
	Slug      string      `json:"slug"`
	Namespace string      `json:"namespace"`
	State     SchemaState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	DroppedAt *time.Time  `json:"dropped_at,omitempty"`
}
