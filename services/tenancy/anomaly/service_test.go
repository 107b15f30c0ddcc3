// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/storage/memory"
)

type seriesKey struct {
	tenant   string
	resource datatypes.ResourceType
}

type staticSource struct {
	data map[seriesKey][]float64
	err  error
	from time.Time
	to   time.Time

	// lagDays shifts the newest record back from to.
	lagDays int
}

func (s *staticSource) CostSeries(ctx context.Context, tenantID string, resource datatypes.ResourceType, from, to time.Time) ([]datatypes.CostRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.from, s.to = from, to
	values := s.data[seriesKey{tenantID, resource}]
	out := make([]datatypes.CostRecord, 0, len(values))
	for i, v := range values {
		date := to.AddDate(0, 0, i-len(values)+1-s.lagDays)
		if date.Before(from) {
			continue
		}
		out = append(out, datatypes.CostRecord{
			TenantID:     tenantID,
			ResourceType: resource,
			Date:         date,
			Amount:       decimal.NewFromFloat(v),
		})
	}
	return out, nil
}

type tenants []datatypes.Tenant

func (l tenants) List(ctx context.Context) ([]datatypes.Tenant, error) { return l, nil }

func TestService_Scan(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewManual(time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC))
	chain := audit.NewChain(store, clk, nil)

	src := &staticSource{data: map[seriesKey][]float64{
		{"t1", datatypes.ResourceCPU}:     {10, 10, 10, 10, 10, 10, 10, 100},
		{"t1", datatypes.ResourceStorage}: {5, 6, 5, 6, 5, 6, 5, 6},
		{"t1", datatypes.ResourceNetwork}: {1, 500},
	}}
	svc := NewService(src, chain, clk, DefaultOptions(), nil)

	results, err := svc.Scan(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, results, 3)

	flagged := map[datatypes.ResourceType]bool{}
	for _, r := range results {
		flagged[r.ResourceType] = r.Anomaly
	}
	assert.True(t, flagged[datatypes.ResourceCPU])
	assert.False(t, flagged[datatypes.ResourceStorage])
	assert.False(t, flagged[datatypes.ResourceNetwork], "two points are not enough")

	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), src.to)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), src.from)

	var entries []datatypes.AuditEntry
	for e, err := range chain.Query(ctx, datatypes.AuditFilter{}) {
		require.NoError(t, err)
		entries = append(entries, e)
	}
	require.Len(t, entries, 1)
	assert.Equal(t, datatypes.ActionCostAnomalyDetected, entries[0].Action)
	assert.Equal(t, "cpu", entries[0].Payload["resource_type"])
	assert.Equal(t, "+Inf", entries[0].Payload["z_score"])

	// Rescanning the same day does not audit twice.
	_, err = svc.Scan(ctx, "t1")
	require.NoError(t, err)
	head, _, err := chain.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head.Sequence)
}

func TestService_ScanLatestRecordYesterday(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC))
	src := &staticSource{
		data: map[seriesKey][]float64{
			{"t1", datatypes.ResourceCPU}: {10, 11, 10, 11, 10, 11, 10, 60},
		},
		lagDays: 1,
	}
	svc := NewService(src, nil, clk, DefaultOptions(), nil)

	results, err := svc.Scan(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), results[0].Date)
	assert.Equal(t, 7, results[0].WindowSize)
	assert.True(t, results[0].Anomaly)
}

func TestService_ScanAll(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC))
	src := &staticSource{data: map[seriesKey][]float64{
		{"active", datatypes.ResourceAPICalls}: {1, 1, 1, 1, 9},
		{"paused", datatypes.ResourceAPICalls}: {1, 1, 1, 1, 9},
	}}
	svc := NewService(src, nil, clk, DefaultOptions(), nil)

	found, err := svc.ScanAll(ctx, tenants{
		{ID: "active", Status: datatypes.StatusActive},
		{ID: "paused", Status: datatypes.StatusSuspended},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, found)
}

func TestService_ScanSourceError(t *testing.T) {
	src := &staticSource{err: errors.New("influx unavailable")}
	svc := NewService(src, nil, clock.NewManual(time.Now()), DefaultOptions(), nil)

	_, err := svc.Scan(context.Background(), "t1")
	assert.ErrorContains(t, err, "influx unavailable")
}
