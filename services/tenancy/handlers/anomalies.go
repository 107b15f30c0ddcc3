// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// AnomalyService scans a tenant's recent spend.
type AnomalyService interface {
	Scan(ctx context.Context, tenantID string) ([]datatypes.AnomalyResult, error)
}

// anomalyResponse renders z as a string because JSON has no infinities.
type anomalyResponse struct {
	ResourceType datatypes.ResourceType `json:"resource_type"`
	Date         string                 `json:"date"`
	Observed     float64                `json:"observed"`
	Mean         *float64               `json:"mean,omitempty"`
	StdDev       *float64               `json:"std_dev,omitempty"`
	ZScore       string                 `json:"z_score,omitempty"`
	ExpectedMin  *float64               `json:"expected_min,omitempty"`
	ExpectedMax  *float64               `json:"expected_max,omitempty"`
	WindowSize   int                    `json:"window_size"`
	Anomaly      bool                   `json:"anomaly"`
	Insufficient bool                   `json:"insufficient_data"`
}

func newAnomalyResponse(r datatypes.AnomalyResult) anomalyResponse {
	return anomalyResponse{
		ResourceType: r.ResourceType,
		Date:         r.Date.Format("2006-01-02"),
		Observed:     r.Observed,
		Mean:         r.Mean,
		StdDev:       r.StdDev,
		ZScore:       anomaly.FormatZ(r.ZScore),
		ExpectedMin:  r.ExpectedMin,
		ExpectedMax:  r.ExpectedMax,
		WindowSize:   r.WindowSize,
		Anomaly:      r.Anomaly,
		Insufficient: r.Insufficient(),
	}
}

// GetAnomalies evaluates the latest day of every resource type.
// ?flagged=true keeps only anomalous results.
func GetAnomalies(tenants TenantService, svc AnomalyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID := c.Param("id")
		if _, err := tenants.Get(ctx, tenantID); err != nil {
			respondError(c, err)
			return
		}

		results, err := svc.Scan(ctx, tenantID)
		if err != nil {
			respondError(c, err)
			return
		}
		flaggedOnly := c.Query("flagged") == "true"
		out := make([]anomalyResponse, 0, len(results))
		flagged := 0
		for _, r := range results {
			if r.Anomaly {
				flagged++
			} else if flaggedOnly {
				continue
			}
			out = append(out, newAnomalyResponse(r))
		}
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": tenantID,
			"results":   out,
			"flagged":   flagged,
		})
	}
}
