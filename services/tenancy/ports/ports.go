// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports declares the infrastructure capabilities the tenancy core
// consumes. Each port is implemented by an adapter under adapters/ and
// injected at startup.
package ports

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// StorageBackend manages the physical per-tenant namespaces.
//
// # Description
//
// CreateNamespace and DropNamespace must be idempotent: creating an existing
// namespace or dropping a missing one succeeds. CascadeDeleteTenantData
// removes all tenant-scoped application rows and returns how many remain
// afterwards; callers treat a non-zero remainder as failure.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across namespaces.
type StorageBackend interface {
	CreateNamespace(ctx context.Context, namespace string) error
	DropNamespace(ctx context.Context, namespace string) error
	CascadeDeleteTenantData(ctx context.Context, tenantID, namespace string) (remaining int64, err error)
}

// BackupPort produces an export package for a tenant before erasure.
// The package is retained outside this service's storage.
type BackupPort interface {
	ExportTenant(ctx context.Context, tenantID, namespace string) (datatypes.PackageRef, error)
}

// CachePort invalidates cached representations of a tenant.
type CachePort interface {
	PurgeTenant(ctx context.Context, tenantID string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
