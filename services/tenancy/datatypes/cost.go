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
	"time"

	"github.com/shopspring/decimal"
)

// ResourceType names a billed resource dimension.
type ResourceType string

const (
	ResourceCPU      ResourceType = "cpu"
	ResourceMemory   ResourceType = "memory"
	ResourceStorage  ResourceType = "storage"
	ResourceNetwork  ResourceType = "network"
	ResourceAPICalls ResourceType = "api_calls"
)

// AllResourceTypes lists the resource types scanned for anomalies.
var AllResourceTypes = []ResourceType{
	ResourceCPU,
	ResourceMemory,
	ResourceStorage,
	ResourceNetwork,
	ResourceAPICalls,
}

// CostRecord is one day of aggregated spend for a tenant and resource.
type CostRecord struct {
	TenantID     string          `json:"tenant_id"`
	ResourceType ResourceType    `json:"resource_type"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
}

// AnomalyResult is the z-score evaluation of a single cost record. The
// statistics are nil when the window held too few points.
type AnomalyResult struct {
	TenantID     string       `json:"tenant_id"`
	ResourceType ResourceType `json:"resource_type"`
	Date         time.Time    `json:"date"`
	Observed     float64      `json:"observed"`
	Mean         *float64     `json:"mean,omitempty"`
	StdDev       *float64     `json:"std_dev,omitempty"`
	ZScore       *float64     `json:"z_score,omitempty"`
	ExpectedMin  *float64     `json:"expected_min,omitempty"`
	ExpectedMax  *float64     `json:"expected_max,omitempty"`
	WindowSize   int          `json:"window_size"`
	Anomaly      bool         `json:"anomaly"`
}

// Insufficient reports whether the window was too small to compute statistics.
func (r AnomalyResult) Insufficient() bool {
	return r.Mean == nil
}
