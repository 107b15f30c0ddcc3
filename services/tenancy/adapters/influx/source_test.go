// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package influx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

const tenant = "5f1d7c1e-4a8b-4c3e-9f0a-2b6d8e1c7a90"

func TestBuildCostQuery(t *testing.T) {
	from := time.Date(2026, 4, 27, 15, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	q, err := BuildCostQuery("costs", DefaultMeasurement, tenant, datatypes.ResourceCPU, from, to)
	require.NoError(t, err)
	assert.Contains(t, q, `from(bucket: "costs")`)
	assert.Contains(t, q, "range(start: 2026-04-27T00:00:00Z, stop: 2026-05-05T00:00:00Z)")
	assert.Contains(t, q, `r.tenant_id == "`+tenant+`"`)
	assert.Contains(t, q, `r.resource == "cpu"`)
}

func TestBuildCostQuery_RejectsInjection(t *testing.T) {
	from := time.Date(2026, 4, 27, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)

	cases := []struct {
		name     string
		tenantID string
		resource datatypes.ResourceType
		meas     string
	}{
		{"tenant not uuid", `x" or true or r.a == "`, datatypes.ResourceCPU, DefaultMeasurement},
		{"resource quote", tenant, `cpu" or true`, DefaultMeasurement},
		{"measurement", tenant, datatypes.ResourceCPU, "Cost-Data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildCostQuery("costs", tc.meas, tc.tenantID, tc.resource, from, to)
			assert.Error(t, err)
		})
	}

	_, err := BuildCostQuery("costs", DefaultMeasurement, tenant, datatypes.ResourceCPU, to, from)
	assert.Error(t, err)
	_, err = BuildCostQuery("", DefaultMeasurement, tenant, datatypes.ResourceCPU, from, to)
	assert.Error(t, err)
}

func TestDecodeRecord(t *testing.T) {
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	rec, err := decodeRecord(tenant, datatypes.ResourceMemory, query.NewFluxRecord(0, map[string]interface{}{
		"_time":  day.Add(3 * time.Hour),
		"_value": 12.5,
	}))
	require.NoError(t, err)
	assert.True(t, rec.Date.Equal(day))
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, datatypes.ResourceMemory, rec.ResourceType)

	rec, err = decodeRecord(tenant, datatypes.ResourceMemory, query.NewFluxRecord(0, map[string]interface{}{
		"_time":  day,
		"_value": "0.10",
	}))
	require.NoError(t, err)
	assert.Equal(t, "0.1", rec.Amount.String())

	_, err = decodeRecord(tenant, datatypes.ResourceMemory, query.NewFluxRecord(0, map[string]interface{}{
		"_time":  day,
		"_value": true,
	}))
	assert.Error(t, err)
}

// Requires a running InfluxDB; set TENANCY_INFLUX_URL and TENANCY_INFLUX_TOKEN.
func TestSource_Integration(t *testing.T) {
	url := os.Getenv("TENANCY_INFLUX_URL")
	token := os.Getenv("TENANCY_INFLUX_TOKEN")
	if url == "" || token == "" {
		t.Skip("TENANCY_INFLUX_URL/TENANCY_INFLUX_TOKEN not set")
	}

	src, err := NewSource(Config{URL: url, Org: "aleutian", Bucket: "tenancy-test"}, token)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	id := uuid.NewString()
	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -3)
	for i := 0; i < 3; i++ {
		require.NoError(t, src.RecordCost(ctx, datatypes.CostRecord{
			TenantID:     id,
			ResourceType: datatypes.ResourceStorage,
			Date:         start.AddDate(0, 0, i),
			Amount:       decimal.NewFromInt(int64(10 + i)),
		}))
	}

	series, err := src.CostSeries(ctx, id, datatypes.ResourceStorage, start, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.True(t, series[0].Date.Before(series[2].Date))
}
