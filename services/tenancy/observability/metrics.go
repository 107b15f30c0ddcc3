// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the tenancy services.
//
// # Description
//
// Metrics cover:
//   - Lifecycle transitions (by from/to state and outcome)
//   - Audit chain appends and verifications
//   - Erasure step executions and durations
//   - Retention decisions and enforcement actions
//   - Cost anomaly detections
//
// Every Record method is safe to call on a nil *Metrics, so components can
// run without metrics in tests and tools.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for tenancy metrics
const tenancySubsystem = "tenancy"

// Metrics holds all Prometheus collectors for the tenancy services.
//
// # Fields
//
//   - TransitionsTotal: Lifecycle transitions by from, to and outcome
//   - AuditAppendsTotal: Audit entries appended by action
//   - ChainVerificationsTotal: Verify calls by result (valid, broken, error)
//   - ErasureStepsTotal: Erasure step executions by step and outcome
//   - ErasureStepDurationSeconds: Erasure step latency by step
//   - ErasureJobsTotal: Finished erasure runs by outcome
//   - ExportJobsTotal: Finished data-portability exports by status
//   - RetentionActionsTotal: Retention actions by category and action
//   - AnomaliesTotal: Flagged cost anomalies by resource type
type Metrics struct {
	TransitionsTotal           *prometheus.CounterVec
	AuditAppendsTotal          *prometheus.CounterVec
	ChainVerificationsTotal    *prometheus.CounterVec
	ErasureStepsTotal          *prometheus.CounterVec
	ErasureStepDurationSeconds *prometheus.HistogramVec
	ErasureJobsTotal           *prometheus.CounterVec
	ExportJobsTotal            *prometheus.CounterVec
	RetentionActionsTotal      *prometheus.CounterVec
	AnomaliesTotal             *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance registered by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers the tenancy metrics with the default Prometheus
// registry and stores them in DefaultMetrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates and registers the tenancy metrics with reg.
//
// # Inputs
//
//   - reg: Registerer to attach collectors to. Tests pass a fresh
//     prometheus.NewRegistry() to stay isolated from the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "transitions_total",
				Help:      "Tenant lifecycle transitions by from state, to state and outcome",
			},
			[]string{"from", "to", "outcome"},
		),

		AuditAppendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "audit_appends_total",
				Help:      "Audit chain entries appended by action",
			},
			[]string{"action"},
		),

		ChainVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "chain_verifications_total",
				Help:      "Audit chain verifications by result",
			},
			[]string{"result"},
		),

		ErasureStepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "erasure_steps_total",
				Help:      "Erasure pipeline step executions by step and outcome",
			},
			[]string{"step", "outcome"},
		),

		ErasureStepDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "erasure_step_duration_seconds",
				Help:      "Erasure pipeline step duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"step"},
		),

		ErasureJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "erasure_jobs_total",
				Help:      "Erasure runs by outcome",
			},
			[]string{"outcome"},
		),

		ExportJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "export_jobs_total",
				Help:      "Data-portability exports by final status",
			},
			[]string{"status"},
		),

		RetentionActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "retention_actions_total",
				Help:      "Retention enforcement actions by category and action",
			},
			[]string{"category", "action"},
		),

		AnomaliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tenancySubsystem,
				Name:      "cost_anomalies_total",
				Help:      "Flagged cost anomalies by resource type",
			},
			[]string{"resource_type"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordTransition records a lifecycle transition attempt.
func (m *Metrics) RecordTransition(from, to string, success bool) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to, outcomeLabel(success)).Inc()
}

// RecordAuditAppend records an appended audit entry.
func (m *Metrics) RecordAuditAppend(action string) {
	if m == nil {
		return
	}
	m.AuditAppendsTotal.WithLabelValues(action).Inc()
}

// RecordVerification records a chain verification result. result is one of
// "valid", "broken" or "error".
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.ChainVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordErasureStep records one erasure step execution.
//
// # Inputs
//
//   - step: Step name (freeze, export_backup, ...).
//   - seconds: Time spent in the step.
//   - success: Whether the step completed.
func (m *Metrics) RecordErasureStep(step string, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.ErasureStepsTotal.WithLabelValues(step, outcomeLabel(success)).Inc()
	m.ErasureStepDurationSeconds.WithLabelValues(step).Observe(seconds)
}

// RecordErasureJob records the outcome of an erasure run.
func (m *Metrics) RecordErasureJob(outcome string) {
	if m == nil {
		return
	}
	m.ErasureJobsTotal.WithLabelValues(outcome).Inc()
}

// RecordExportJob records a finished export job.
func (m *Metrics) RecordExportJob(status string) {
	if m == nil {
		return
	}
	m.ExportJobsTotal.WithLabelValues(status).Inc()
}

// RecordRetentionAction records an enforced retention action.
func (m *Metrics) RecordRetentionAction(category, action string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.RetentionActionsTotal.WithLabelValues(category, action).Add(float64(count))
}

// RecordAnomaly records a flagged cost anomaly.
func (m *Metrics) RecordAnomaly(resourceType string) {
	if m == nil {
		return
	}
	m.AnomaliesTotal.WithLabelValues(resourceType).Inc()
}
