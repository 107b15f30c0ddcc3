// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/retention"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":12240", cfg.Server.Addr)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Nil(t, cfg.Postgres)
	assert.Equal(t, 7, cfg.Anomaly.WindowDays)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tenancy.yaml", `
server:
  addr: ":9000"
storage:
  backend: memory
postgres:
  host: db.internal
  port: 5433
  user: tenancy
  database: platform
  ssl_mode: verify-full
  shared_tables: [usage_events]
  retention_tables:
    log: [request_logs]
redis:
  addr: "cache:6379"
  key_prefix: "app:"
anomaly:
  window_days: 14
  threshold: 3
  min_points: 5
logging:
  level: debug
  format: json
`)
	t.Setenv("TENANCY_HTTP_ADDR", ":9100")
	t.Setenv("TENANCY_PG_PORT", "6432")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	require.NotNil(t, cfg.Postgres)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 6432, cfg.Postgres.Port)
	assert.Equal(t, []string{"usage_events"}, cfg.Postgres.SharedTables)
	assert.Equal(t, []string{"request_logs"}, cfg.Postgres.RetentionTables["log"])
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "app:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 14, cfg.Anomaly.WindowDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, time.Hour, cfg.Scheduler.RetentionInterval)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"bad backend":   "storage: {backend: sqlite}\n",
		"bad threshold": "anomaly: {window_days: 7, threshold: 0, min_points: 3}\n",
		"bad log level": "logging: {level: loud, format: auto}\n",
		"bad redis":     "redis: {addr: \"\"}\n",
		"not yaml":      "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, "c.yaml", body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("TENANCY_RETENTION_CONCURRENCY", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestSecret(t *testing.T) {
	raw := []byte("s3cret")
	s := NewSecret(raw)
	assert.False(t, s.Empty())
	assert.Equal(t, make([]byte, 6), raw, "source slice is wiped")

	var got string
	require.NoError(t, s.Use(func(p string) error { got = p; return nil }))
	assert.Equal(t, "s3cret", got)

	empty := NewSecret(nil)
	assert.True(t, empty.Empty())
	require.NoError(t, empty.Use(func(p string) error { got = p; return nil }))
	assert.Equal(t, "", got)
}

func TestLoadSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TENANCY_INFLUX_TOKEN", "from-env")
	t.Setenv("TENANCY_PG_PASSWORD_FILE", writeFile(t, dir, "pg", "from-file\n"))

	for name, want := range map[string]string{
		SecretInfluxToken:      "from-env",
		SecretPostgresPassword: "from-file",
		SecretRedisPassword:    "",
	} {
		s, err := LoadSecret(name)
		require.NoError(t, err)
		require.NoError(t, s.Use(func(p string) error {
			assert.Equal(t, want, p, name)
			return nil
		}))
	}

	t.Setenv("TENANCY_REDIS_PASSWORD_FILE", filepath.Join(dir, "nope"))
	_, err := LoadSecret(SecretRedisPassword)
	assert.Error(t, err)
}

func TestLoadRetentionDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "defaults.yaml", `
fallback: {retention_days: 400, grace_days: 10, hard_delete_enforced: true}
categories:
  log: {retention_days: 30, grace_days: 7, hard_delete_enforced: true}
`)
	d, err := LoadRetentionDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, 400, d.Fallback.RetentionDays)
	assert.Equal(t, 30, d.For(datatypes.CategoryLog).RetentionDays)
	assert.Equal(t, 90, d.For(datatypes.CategoryTransactional).RetentionDays, "built-in kept")

	for name, body := range map[string]string{
		"unknown category": "categories:\n  widgets: {retention_days: 3}\n",
		"zero days":        "categories:\n  log: {retention_days: 0, grace_days: 1}\n",
		"negative grace":   "fallback: {retention_days: 10, grace_days: -1}\n",
	} {
		_, err := LoadRetentionDefaults(writeFile(t, dir, "bad.yaml", body))
		assert.Error(t, err, name)
	}
}

type recordingApplier struct {
	mu   sync.Mutex
	last retention.Defaults
	n    int
}

func (r *recordingApplier) SetDefaults(d retention.Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = d
	r.n++
}

func (r *recordingApplier) snapshot() (retention.Defaults, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.n
}

func TestDefaultsWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "defaults.yaml", "categories:\n  log: {retention_days: 30, grace_days: 7}\n")

	applier := &recordingApplier{}
	w, err := NewDefaultsWatcher(path, applier)
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	writeFile(t, dir, "defaults.yaml", "categories:\n  log: {retention_days: 45, grace_days: 7}\n")
	assert.Eventually(t, func() bool {
		d, n := applier.snapshot()
		return n >= 1 && d.For(datatypes.CategoryLog).RetentionDays == 45
	}, 3*time.Second, 20*time.Millisecond)

	// An invalid edit leaves the previous defaults in place.
	_, before := applier.snapshot()
	writeFile(t, dir, "defaults.yaml", "categories:\n  log: {retention_days: 0}\n")
	time.Sleep(300 * time.Millisecond)
	d, after := applier.snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, 45, d.For(datatypes.CategoryLog).RetentionDays)

	writeFile(t, dir, "other.yaml", "ignored: true\n")
	time.Sleep(200 * time.Millisecond)
	_, n := applier.snapshot()
	assert.Equal(t, after, n)
	assert.Equal(t, n, w.Reloads())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
