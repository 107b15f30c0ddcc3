// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordTransition(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTransition("PENDING", "PROVISIONING", true)
	m.RecordTransition("PENDING", "PROVISIONING", true)
	m.RecordTransition("ACTIVE", "DELETED", false)

	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("PENDING", "PROVISIONING", "success")); got != 2 {
		t.Errorf("success transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("ACTIVE", "DELETED", "error")); got != 1 {
		t.Errorf("error transitions = %v, want 1", got)
	}
}

func TestRecordErasureStep(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordErasureStep("drop_schema", 0.2, false)
	m.RecordErasureStep("drop_schema", 0.1, true)

	if got := testutil.ToFloat64(m.ErasureStepsTotal.WithLabelValues("drop_schema", "error")); got != 1 {
		t.Errorf("failed drop_schema = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ErasureStepDurationSeconds); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestRecordRetentionAction_IgnoresZero(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRetentionAction("pii", "soft_delete", 0)
	m.RecordRetentionAction("pii", "soft_delete", 4)

	if got := testutil.ToFloat64(m.RetentionActionsTotal.WithLabelValues("pii", "soft_delete")); got != 4 {
		t.Errorf("soft deletes = %v, want 4", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("a", "b", true)
	m.RecordAuditAppend("tenant.created")
	m.RecordVerification("valid")
	m.RecordErasureStep("freeze", 1, true)
	m.RecordErasureJob("succeeded")
	m.RecordExportJob("COMPLETED")
	m.RecordRetentionAction("pii", "hard_delete", 1)
	m.RecordAnomaly("cpu")
}
