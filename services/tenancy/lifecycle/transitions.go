// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package lifecycle

import "github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"

// allowed is the complete transition table.
var allowed = map[datatypes.TenantStatus][]datatypes.TenantStatus{
	datatypes.StatusPending:        {datatypes.StatusProvisioning},
	datatypes.StatusProvisioning:   {datatypes.StatusActive},
	datatypes.StatusActive:         {datatypes.StatusSuspended, datatypes.StatusDeprovisioning},
	datatypes.StatusSuspended:      {datatypes.StatusActive, datatypes.StatusDeprovisioning},
	datatypes.StatusDeprovisioning: {datatypes.StatusDeleted},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to datatypes.TenantStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from s in one transition.
func NextStates(s datatypes.TenantStatus) []datatypes.TenantStatus {
	return append([]datatypes.TenantStatus(nil), allowed[s]...)
}
