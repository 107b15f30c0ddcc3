// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package influx reads and writes tenant daily cost series in InfluxDB.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/shopspring/decimal"

	"github.com/AleutianAI/AleutianTenancy/pkg/validation"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// Config holds InfluxDB settings. The token comes from the secret store.
type Config struct {
	URL         string `yaml:"url" validate:"required,url"`
	Org         string `yaml:"org" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	Measurement string `yaml:"measurement"`
}

// DefaultMeasurement holds one point per tenant, resource and day.
const DefaultMeasurement = "tenant_cost"

func (c Config) measurement() string {
	if c.Measurement == "" {
		return DefaultMeasurement
	}
	return c.Measurement
}

// Source implements anomaly.SeriesSource and records daily costs.
type Source struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	cfg      Config
}

// NewSource creates a Source with its own client.
func NewSource(cfg Config, token string) (*Source, error) {
	if err := validation.ValidateLabel(cfg.measurement()); err != nil {
		return nil, fmt.Errorf("influx: measurement: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, token)
	return &Source{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}, nil
}

// Close releases the client.
func (s *Source) Close() {
	s.client.Close()
}

// CostSeries returns the tenant's daily costs for resource in [from, to],
// oldest first.
func (s *Source) CostSeries(ctx context.Context, tenantID string, resource datatypes.ResourceType, from, to time.Time) ([]datatypes.CostRecord, error) {
	flux, err := BuildCostQuery(s.cfg.Bucket, s.cfg.measurement(), tenantID, resource, from, to)
	if err != nil {
		return nil, err
	}

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	var out []datatypes.CostRecord
	for result.Next() {
		rec, err := decodeRecord(tenantID, resource, result.Record())
		if err != nil {
			slog.Warn("tenancy.influx.record_skipped", "tenant_id", tenantID, "resource", resource, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return out, nil
}

// RecordCost writes one daily cost point.
func (s *Source) RecordCost(ctx context.Context, rec datatypes.CostRecord) error {
	if err := validation.ValidateTenantID(rec.TenantID); err != nil {
		return err
	}
	if err := validation.ValidateLabel(string(rec.ResourceType)); err != nil {
		return err
	}
	p := influxdb2.NewPoint(s.cfg.measurement(),
		map[string]string{"tenant_id": rec.TenantID, "resource": string(rec.ResourceType)},
		map[string]interface{}{"amount": rec.Amount.InexactFloat64()},
		rec.Date.UTC().Truncate(24*time.Hour),
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx: write cost: %w", err)
	}
	return nil
}

// BuildCostQuery renders the Flux query for one tenant and resource. All
// interpolated values are validated first.
func BuildCostQuery(bucket, measurement, tenantID string, resource datatypes.ResourceType, from, to time.Time) (string, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	if err := validation.ValidateLabels([]string{measurement, string(resource)}); err != nil {
		return "", err
	}
	if bucket == "" {
		return "", fmt.Errorf("influx: bucket is required")
	}
	if !to.After(from) {
		return "", fmt.Errorf("influx: empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	// range stop is exclusive; the last day is included by adding one day.
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "amount")
  |> filter(fn: (r) => r.tenant_id == %q and r.resource == %q)
  |> aggregateWindow(every: 1d, fn: sum, createEmpty: false, timeSrc: "_start")
  |> sort(columns: ["_time"])`,
		bucket,
		from.UTC().Truncate(24*time.Hour).Format(time.RFC3339),
		to.UTC().Truncate(24*time.Hour).Add(24*time.Hour).Format(time.RFC3339),
		measurement, tenantID, string(resource),
	), nil
}

func decodeRecord(tenantID string, resource datatypes.ResourceType, r *query.FluxRecord) (datatypes.CostRecord, error) {
	var amount decimal.Decimal
	switch v := r.Value().(type) {
	case float64:
		amount = decimal.NewFromFloat(v)
	case int64:
		amount = decimal.NewFromInt(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return datatypes.CostRecord{}, fmt.Errorf("amount %q: %w", v, err)
		}
		amount = d
	default:
		return datatypes.CostRecord{}, fmt.Errorf("unexpected amount type %T", v)
	}
	return datatypes.CostRecord{
		TenantID:     tenantID,
		ResourceType: resource,
		Date:         r.Time().UTC().Truncate(24 * time.Hour),
		Amount:       amount,
	}, nil
}
