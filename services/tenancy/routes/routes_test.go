// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/pkg/extensions"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/erasure"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/export"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/handlers"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/lifecycle"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports/fake"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/retention"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/schema"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// spikeSource returns a steady cpu series ending in a spike today.
type spikeSource struct{}

func (spikeSource) CostSeries(_ context.Context, tenantID string, resource datatypes.ResourceType, from, to time.Time) ([]datatypes.CostRecord, error) {
	if resource != datatypes.ResourceCPU {
		return nil, nil
	}
	amounts := []int64{10, 11, 9, 10, 11, 9, 10, 50}
	out := make([]datatypes.CostRecord, 0, len(amounts))
	for i, a := range amounts {
		out = append(out, datatypes.CostRecord{
			TenantID:     tenantID,
			ResourceType: resource,
			Date:         to.AddDate(0, 0, i-len(amounts)+1),
			Amount:       decimal.NewFromInt(a),
		})
	}
	return out, nil
}

type testServer struct {
	router  *gin.Engine
	store   *memory.Store
	backend *fake.Backend
	backup  *fake.Backup
	cache   *fake.Cache
	erasure *erasure.Pipeline
	exports *export.Service
}

func newTestServer(t *testing.T, opts extensions.ServiceOptions, health map[string]handlers.HealthCheck) *testServer {
	t.Helper()
	store := memory.New()
	backend := fake.NewBackend()
	backup := &fake.Backup{}
	cache := &fake.Cache{}
	clk := clock.NewManual(testNow)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	chain := audit.NewChain(store, clk, metrics)
	schemas := schema.NewManager(backend, store, clk)
	tenants := lifecycle.NewService(lifecycle.Config{
		Store: store, Schemas: schemas, Audit: chain, Clock: clk, Metrics: metrics,
	})
	pipeline := erasure.NewPipeline(erasure.Config{
		Jobs:      store,
		Lifecycle: tenants,
		Schemas:   schemas,
		Backend:   backend,
		Backup:    backup,
		Cache:     cache,
		Audit:     chain,
		Clock:     clk,
		Metrics:   metrics,
		Gate:      chain.Halt(),
	})
	exports := export.NewService(export.Config{
		Store:   store,
		Tenants: tenants,
		Schemas: schemas,
		Backup:  backup,
		Audit:   chain,
		Clock:   clk,
		Metrics: metrics,
	})

	router := gin.New()
	SetupRoutes(router, Services{
		Tenants:   tenants,
		Audit:     chain,
		Retention: retention.NewEngine(store, chain, clk, retention.DefaultPlatformDefaults()),
		Anomalies: anomaly.NewService(spikeSource{}, chain, clk, anomaly.DefaultOptions(), metrics),
		Erasure:   pipeline,
		Exports:   exports,
		Halt:      chain,
		Health:    health,
		Gatherer:  reg,
	}, opts)

	return &testServer{
		router:  router,
		store:   store,
		backend: backend,
		backup:  backup,
		cache:   cache,
		erasure: pipeline,
		exports: exports,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

// activeTenant creates and provisions slug, returning its id.
func (s *testServer) activeTenant(t *testing.T, slug string) string {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/v1/tenants", gin.H{"slug": slug}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := body["id"].(string)

	w, body = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/provision", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "ACTIVE", body["status"])
	return id
}

// =============================================================================
// Tenants
// =============================================================================

func TestTenantRoutes(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)

	w, body := s.do(t, http.MethodPost, "/v1/tenants", gin.H{"slug": "acme"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, []any{"PROVISIONING"}, body["next_states"])
	id := body["id"].(string)

	w, body = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/provision", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACTIVE", body["status"])
	assert.True(t, s.backend.Exists("tenant_acme"))

	w, body = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/transition", gin.H{"target": "SUSPENDED", "reason": "unpaid"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unpaid", body["suspension_reason"])

	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/transition", gin.H{"target": "PENDING"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/transition", gin.H{"target": "ARCHIVED"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, "/v1/tenants", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = s.do(t, http.MethodGet, "/v1/tenants/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUSPENDED", body["status"])
}

func TestTenantRoutes_Errors(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	s.activeTenant(t, "acme")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"duplicate slug", http.MethodPost, "/v1/tenants", gin.H{"slug": "acme"}, http.StatusConflict},
		{"case variant slug", http.MethodPost, "/v1/tenants", gin.H{"slug": "Acme"}, http.StatusCreated},
		{"missing slug", http.MethodPost, "/v1/tenants", gin.H{}, http.StatusBadRequest},
		{"invalid slug", http.MethodPost, "/v1/tenants", gin.H{"slug": "-nope;drop"}, http.StatusBadRequest},
		{"unknown tenant", http.MethodGet, "/v1/tenants/" + uuid.NewString(), nil, http.StatusNotFound},
		{"provision unknown", http.MethodPost, "/v1/tenants/" + uuid.NewString() + "/provision", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := s.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestProvision_SlugCollision(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	s.activeTenant(t, "acme-corp")

	w, body := s.do(t, http.MethodPost, "/v1/tenants", gin.H{"slug": "Acme Corp"}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+body["id"].(string)+"/provision", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

// =============================================================================
// Erasure and audit
// =============================================================================

func TestErasure_WaitAndAudit(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "acme")

	w, _ := s.do(t, http.MethodGet, "/v1/tenants/"+id+"/erasure", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "succeeded", body["outcome"])
	assert.Equal(t, "local-user", body["requested_by"])

	w, body = s.do(t, http.MethodGet, "/v1/tenants/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DELETED", body["status"])
	assert.Equal(t, []any{}, body["next_states"])
	assert.Equal(t, []string{id}, s.cache.Purged())

	// created, 2 provisioning transitions, 7 erasure entries.
	w, body = s.do(t, http.MethodGet, "/v1/audit?tenant_id="+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), body["count"])
	assert.Equal(t, false, body["truncated"])

	w, body = s.do(t, http.MethodGet, "/v1/audit?tenant_id="+id+"&limit=4", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), body["count"])
	assert.Equal(t, true, body["truncated"])

	w, body = s.do(t, http.MethodGet, "/v1/audit/verify", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(10), body["checked"])
}

func TestErasure_Async(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "globex")

	w, body := s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", body["status"])

	require.Eventually(t, func() bool {
		job, err := s.erasure.Status(context.Background(), id)
		return err == nil && job.Outcome == datatypes.OutcomeSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestErasure_StepFailure(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "initech")
	s.cache.FailOnce(fake.OpPurgeTenant, errors.New("redis down"))

	w, body := s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure?wait=true", nil, "")
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "purge_caches", body["failed_step"])
	assert.Equal(t, float64(datatypes.StepDropSchema), body["last_completed_step"])

	w, body = s.do(t, http.MethodGet, "/v1/tenants/"+id+"/erasure", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", body["outcome"])
}

func TestAudit_QueryValidation(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)

	for _, q := range []string{"tenant_id=not-a-uuid", "from=yesterday", "limit=0", "limit=5000"} {
		w, _ := s.do(t, http.MethodGet, "/v1/audit?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	w, _ := s.do(t, http.MethodGet, "/v1/audit/verify?from=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAudit_VerifyDetectsTampering(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	s.activeTenant(t, "acme")

	require.NoError(t, s.store.TamperAuditEntry(2, func(e *datatypes.AuditEntry) {
		e.Actor = "mallory"
	}))

	w, body := s.do(t, http.MethodGet, "/v1/audit/verify", nil, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, true, body["chain_integrity_violation"])
	assert.Equal(t, float64(2), body["broken_at_seq"])

	w, _ = s.do(t, http.MethodGet, "/v1/audit/verify?to=1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAudit_HaltBlocksErasureUntilCleared(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "acme")

	w, body := s.do(t, http.MethodGet, "/v1/audit/halt", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["halted"])

	require.NoError(t, s.store.TamperAuditEntry(2, func(e *datatypes.AuditEntry) {
		e.Actor = "mallory"
	}))
	w, _ = s.do(t, http.MethodGet, "/v1/audit/verify", nil, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w, body = s.do(t, http.MethodGet, "/v1/audit/halt", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["halted"])
	assert.Equal(t, float64(2), body["broken_at_seq"])

	w, body = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure?wait=true", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Equal(t, true, body["chain_integrity_violation"])
	assert.Equal(t, 0, s.backend.Calls(fake.OpCascadeDelete))

	w, _ = s.do(t, http.MethodPost, "/v1/audit/halt/clear", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "a reason is required")

	w, body = s.do(t, http.MethodPost, "/v1/audit/halt/clear", gin.H{"reason": "entry 2 restored from backup"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["halted"])

	w, body = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "succeeded", body["outcome"])
}

// =============================================================================
// Exports
// =============================================================================

func TestExportRoutes(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "acme")
	path := "/v1/tenants/" + id + "/exports"

	w, body := s.do(t, http.MethodPost, path+"?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "local-user", body["requested_by"])
	pkg := body["package"].(map[string]any)
	assert.Equal(t, "mem://exports/"+id+".tar.gz", pkg["uri"])
	jobID := body["job_id"].(string)

	w, body = s.do(t, http.MethodPost, path, nil, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "QUEUED", body["status"])
	s.exports.Wait()

	w, body = s.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	w, body = s.do(t, http.MethodGet, path+"/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, jobID, body["job_id"])

	w, _ = s.do(t, http.MethodGet, path+"/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+uuid.NewString()+"/exports", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Failures are reported on the job.
	s.backup.FailOnce(fake.OpExportTenant, errors.New("bucket unavailable"))
	w, body = s.do(t, http.MethodPost, path+"?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, "bucket unavailable", body["error"])

	w, body = s.do(t, http.MethodGet, "/v1/tenants/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACTIVE", body["status"])

	leaving := s.activeTenant(t, "leaving")
	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+leaving+"/transition", gin.H{"target": "DEPROVISIONING"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+leaving+"/exports", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

// =============================================================================
// Retention and anomalies
// =============================================================================

func TestRetentionRoutes(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "acme")
	path := "/v1/tenants/" + id + "/retention"

	w, body := s.do(t, http.MethodGet, path+"?category=pii", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "platform", body["source"])

	w, _ = s.do(t, http.MethodPut, path, gin.H{"retention_days": 0}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPut, path, gin.H{"category": "secrets", "retention_days": 30}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodGet, path+"?category=secrets", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPut, path, gin.H{"retention_days": 30, "grace_days": 7}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	policy := body["policy"].(map[string]any)
	assert.Equal(t, float64(1), policy["version"])
	assert.Equal(t, "local-user", policy["updated_by"])

	w, body = s.do(t, http.MethodGet, path+"?category=pii", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant", body["source"])

	s.do(t, http.MethodPut, path, gin.H{"retention_days": 60}, "")
	w, body = s.do(t, http.MethodGet, path+"?history=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["history"], 2)

	w, _ = s.do(t, http.MethodPut, "/v1/tenants/"+uuid.NewString()+"/retention", gin.H{"retention_days": 30}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnomalyRoutes(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), nil)
	id := s.activeTenant(t, "acme")

	w, body := s.do(t, http.MethodGet, "/v1/tenants/"+id+"/anomalies", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["flagged"])

	results := body["results"].([]any)
	require.Len(t, results, 1)
	r := results[0].(map[string]any)
	assert.Equal(t, "cpu", r["resource_type"])
	assert.Equal(t, "2026-05-04", r["date"])
	assert.Equal(t, true, r["anomaly"])
	assert.IsType(t, "", r["z_score"])
	assert.Equal(t, float64(7), r["window_size"])

	w, _ = s.do(t, http.MethodGet, "/v1/tenants/"+uuid.NewString()+"/anomalies", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Auth, health, metrics
// =============================================================================

func TestRoutes_Authorization(t *testing.T) {
	opts := extensions.DefaultOptions().
		WithAuth(extensions.NewStaticTokenAuthProvider(map[string]extensions.AuthInfo{
			"viewer": {UserID: "vera", Roles: []string{extensions.RoleViewer}},
			"ops":    {UserID: "otto", Roles: []string{extensions.RoleOperator}},
			"dpo":    {UserID: "dana", Roles: []string{extensions.RoleCompliance}},
		})).
		WithAuthz(extensions.NewRoleAuthzProvider(extensions.DefaultTenancyRules()))
	s := newTestServer(t, opts, nil)

	w, _ := s.do(t, http.MethodGet, "/v1/tenants", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/v1/tenants", gin.H{"slug": "acme"}, "viewer")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := s.do(t, http.MethodPost, "/v1/tenants", gin.H{"slug": "acme"}, "ops")
	require.Equal(t, http.StatusCreated, w.Code)
	id := body["id"].(string)

	w, _ = s.do(t, http.MethodGet, "/v1/tenants/"+id, nil, "viewer")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure?wait=true", nil, "ops")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/provision", nil, "ops")
	require.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, http.MethodPost, "/v1/tenants/"+id+"/erasure?wait=true", nil, "dpo")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "dana", body["requested_by"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, extensions.DefaultOptions(), map[string]handlers.HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	w, body := s.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	s.activeTenant(t, "acme")
	w, _ = s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_tenancy_")

	down := newTestServer(t, extensions.DefaultOptions(), map[string]handlers.HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
		"redis":    func(context.Context) error { return nil },
	})
	w, body = down.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["postgres"])
	assert.Equal(t, "ok", checks["redis"])
}
