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
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

// SeriesSource returns aggregated daily costs. Records must be ordered by
// date, oldest first, and dated within [from, to].
type SeriesSource interface {
	CostSeries(ctx context.Context, tenantID string, resource datatypes.ResourceType, from, to time.Time) ([]datatypes.CostRecord, error)
}

// AuditAppender records flagged anomalies.
type AuditAppender interface {
	Append(ctx context.Context, tenantID *string, actor, action string, payload map[string]any) (datatypes.AuditEntry, error)
}

// TenantLister returns the tenants to scan.
type TenantLister interface {
	List(ctx context.Context) ([]datatypes.Tenant, error)
}

// Service runs the detector over stored cost series.
type Service struct {
	source  SeriesSource
	audit   AuditAppender
	clock   ports.Clock
	opts    Options
	metrics *observability.Metrics

	mu       sync.Mutex
	recorded map[string]struct{}
}

// NewService creates a Service. audit and metrics may be nil, in which case
// flagged results are only returned.
func NewService(source SeriesSource, audit AuditAppender, clk ports.Clock, opts Options, metrics *observability.Metrics) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		source:   source,
		audit:    audit,
		clock:    clk,
		opts:     opts,
		metrics:  metrics,
		recorded: make(map[string]struct{}),
	}
}

// Options returns the detector settings in use.
func (s *Service) Options() Options { return s.opts }

// Scan evaluates the latest cost of every resource type for tenantID.
//
// # Description
//
// Loads history from WindowDays+1 days before today, so a latest record
// dated yesterday (today's aggregate has not landed yet) still gets a full
// baseline. Runs Detect per resource type and appends a cost.anomaly_detected audit entry for each flagged
// result. A given tenant, resource and date is audited at most once per
// process.
//
// # Outputs
//
//   - []datatypes.AnomalyResult: One result per resource type with data.
//   - error: Source or audit failure.
func (s *Service) Scan(ctx context.Context, tenantID string) ([]datatypes.AnomalyResult, error) {
	to := truncateDay(s.clock.Now())
	from := to.AddDate(0, 0, -(s.opts.WindowDays + 1))

	results := make([]datatypes.AnomalyResult, 0, len(datatypes.AllResourceTypes))
	for _, resource := range datatypes.AllResourceTypes {
		series, err := s.source.CostSeries(ctx, tenantID, resource, from, to)
		if err != nil {
			return results, fmt.Errorf("anomaly: load %s series for %s: %w", resource, tenantID, err)
		}
		if len(series) == 0 {
			continue
		}
		r := Detect(series, s.opts)
		results = append(results, r)
		if r.Anomaly {
			if err := s.recordAnomaly(ctx, r); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// ScanAll scans every ACTIVE tenant and returns the number of anomalies
// found. Errors for one tenant are logged and do not stop the scan.
func (s *Service) ScanAll(ctx context.Context, tenants TenantLister) (int, error) {
	list, err := tenants.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("anomaly: list tenants: %w", err)
	}

	found := 0
	for _, t := range list {
		if t.Status != datatypes.StatusActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return found, err
		}
		results, err := s.Scan(ctx, t.ID)
		if err != nil {
			slog.Warn("tenancy.anomaly.scan_failed", "tenant_id", t.ID, "error", err)
			continue
		}
		for _, r := range results {
			if r.Anomaly {
				found++
			}
		}
	}
	return found, nil
}

func (s *Service) recordAnomaly(ctx context.Context, r datatypes.AnomalyResult) error {
	key := r.TenantID + "|" + string(r.ResourceType) + "|" + r.Date.Format(time.DateOnly)
	s.mu.Lock()
	_, seen := s.recorded[key]
	s.mu.Unlock()
	if seen {
		return nil
	}

	s.metrics.RecordAnomaly(string(r.ResourceType))
	slog.Warn("tenancy.anomaly.detected",
		"tenant_id", r.TenantID,
		"resource_type", r.ResourceType,
		"date", r.Date.Format(time.DateOnly),
		"observed", r.Observed,
		"z_score", FormatZ(r.ZScore),
	)

	if s.audit != nil {
		tenantID := r.TenantID
		if _, err := s.audit.Append(ctx, &tenantID, "anomaly-detector", datatypes.ActionCostAnomalyDetected, map[string]any{
			"resource_type": string(r.ResourceType),
			"date":          r.Date.Format(time.DateOnly),
			"observed":      r.Observed,
			"mean":          *r.Mean,
			"std_dev":       *r.StdDev,
			"z_score":       FormatZ(r.ZScore),
			"window_size":   r.WindowSize,
		}); err != nil {
			return fmt.Errorf("anomaly: audit: %w", err)
		}
	}

	s.mu.Lock()
	s.recorded[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// FormatZ renders a z-score for JSON, which has no infinities. Nil renders
// as "".
func FormatZ(z *float64) string {
	switch {
	case z == nil:
		return ""
	case math.IsInf(*z, 1):
		return "+Inf"
	case math.IsInf(*z, -1):
		return "-Inf"
	default:
		return fmt.Sprintf("%.4f", *z)
	}
}
