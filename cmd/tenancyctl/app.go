// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/gcs"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/influx"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/postgres"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/redis"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/clock"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/config"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/erasure"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/export"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/handlers"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/lifecycle"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/observability"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports/fake"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/retention"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/schema"
	badgerstore "github.com/AleutianAI/AleutianTenancy/services/tenancy/storage/badger"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/storage/memory"
)

// registry is the persisted state every service reads and writes.
type registry interface {
	lifecycle.Store
	schema.Store
	audit.Store
	retention.PolicyStore
	erasure.JobStore
	export.Store
}

// app holds the wired services of one process.
type app struct {
	cfg     config.Config
	metrics *observability.Metrics
	gather  prometheus.Gatherer

	store     registry
	chain     *audit.Chain
	schemas   *schema.Manager
	tenants   *lifecycle.Service
	retention *retention.Engine
	enforcer  *retention.Enforcer
	anomalies *anomaly.Service
	erasure   *erasure.Pipeline
	exports   *export.Service

	costs  *influx.Source
	health map[string]handlers.HealthCheck

	closers []func() error
}

// appOptions tune buildApp for the CLI and for tests.
type appOptions struct {
	// InMemory replaces every configured backend with in-process fakes.
	InMemory bool

	// Registerer receives the tenancy metrics. Nil uses a fresh registry.
	Registerer *prometheus.Registry

	Clock ports.Clock
}

// buildApp opens storage and adapters and wires the services.
//
// # Description
//
// With InMemory every adapter is an in-process fake. Otherwise only the
// namespace backend falls back to an in-process one when Postgres is not
// configured. Without GCS there is no backup store and erasure refuses to
// run; without Redis cache purges are a logged no-op. Retention
// enforcement needs Postgres and is disabled without it. Anomaly detection
// without InfluxDB sees no cost data. Retention enforcement and erasure
// share the audit chain's integrity latch.
func buildApp(ctx context.Context, cfg config.Config, opts appOptions) (a *app, err error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	a = &app{
		cfg:     cfg,
		metrics: observability.NewMetrics(reg),
		gather:  reg,
		health:  make(map[string]handlers.HealthCheck),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStore(cfg, opts.InMemory); err != nil {
		return nil, err
	}

	var (
		backend ports.StorageBackend = fake.NewBackend()
		backup  ports.BackupPort
		cache   ports.CachePort      = noCache{}
		series  anomaly.SeriesSource = noSeries{}
		records retention.RecordSource
		dumper  gcs.TableSource = emptyDump{}
		db      *sql.DB
	)

	if opts.InMemory {
		slog.Warn("tenancy.startup.in_memory", "detail", "all backends are in-process fakes")
		backup = &fake.Backup{}
		cache = &fake.Cache{}
	}

	a.chain = audit.NewChain(a.store, clk, a.metrics)

	if cfg.Postgres != nil && !opts.InMemory {
		if db, err = openPostgres(ctx, cfg.Postgres.Config); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.health["postgres"] = db.PingContext

		pg, err := postgres.NewBackend(db, cfg.Postgres.SharedTables)
		if err != nil {
			return nil, err
		}
		backend = pg
		dumper = postgres.NewDumper(db)
	} else if !opts.InMemory {
		slog.Warn("tenancy.startup.dev_backend", "detail", "postgres not configured, namespaces are in-process")
	}
	a.schemas = schema.NewManager(backend, a.store, clk)

	a.tenants = lifecycle.NewService(lifecycle.Config{
		Store:   a.store,
		Schemas: a.schemas,
		Audit:   a.chain,
		Clock:   clk,
		Metrics: a.metrics,
	})

	if db != nil {
		tables, err := retentionTables(cfg.Postgres.RetentionTables)
		if err != nil {
			return nil, err
		}
		src, err := postgres.NewRecordSource(db, namespaceResolver{tenants: a.tenants}, tables)
		if err != nil {
			return nil, err
		}
		records = src
	}

	if cfg.Redis != nil && !opts.InMemory {
		client, err := openRedis(*cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		rc := redis.NewCache(client, *cfg.Redis)
		a.health["redis"] = rc.Ping
		cache = rc
	} else if !opts.InMemory {
		slog.Warn("tenancy.startup.cache_disabled", "detail", "redis not configured, cache purges are skipped")
	}

	if cfg.GCS != nil && !opts.InMemory {
		client, err := gcs.NewClient(ctx, *cfg.GCS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		backup = gcs.NewExporter(dumper, client, cfg.GCS.Prefix, clk)
	} else if !opts.InMemory {
		slog.Warn("tenancy.startup.erasure_disabled", "detail", "gcs not configured, erasure and export refuse to run")
	}

	if cfg.Influx != nil && !opts.InMemory {
		src, err := openInflux(*cfg.Influx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { src.Close(); return nil })
		a.costs = src
		series = src
	}

	defaults := retention.DefaultPlatformDefaults()
	if cfg.Retention.DefaultsFile != "" {
		if defaults, err = config.LoadRetentionDefaults(cfg.Retention.DefaultsFile); err != nil {
			return nil, err
		}
	}
	a.retention = retention.NewEngine(a.store, a.chain, clk, defaults)
	if records != nil {
		ecfg := retention.DefaultEnforcerConfig()
		ecfg.Concurrency = cfg.Retention.Concurrency
		ecfg.TenantsPerSecond = cfg.Retention.TenantsPerSecond
		ecfg.Gate = a.chain.Halt()
		a.enforcer = retention.NewEnforcer(a.retention, records, a.tenants, ecfg, a.metrics)
	} else {
		slog.Info("tenancy.startup.retention_disabled", "detail", "no record source configured")
	}

	a.anomalies = anomaly.NewService(series, a.chain, clk, cfg.Anomaly, a.metrics)
	a.erasure = erasure.NewPipeline(erasure.Config{
		Jobs:      a.store,
		Lifecycle: a.tenants,
		Schemas:   a.schemas,
		Backend:   backend,
		Backup:    backup,
		Cache:     cache,
		Audit:     a.chain,
		Clock:     clk,
		Metrics:   a.metrics,
		Gate:      a.chain.Halt(),
	})
	a.exports = export.NewService(export.Config{
		Store:   a.store,
		Tenants: a.tenants,
		Schemas: a.schemas,
		Backup:  backup,
		Audit:   a.chain,
		Clock:   clk,
		Metrics: a.metrics,
	})
	return a, nil
}

func (a *app) openStore(cfg config.Config, inMemory bool) error {
	if inMemory || cfg.Storage.Backend == "memory" {
		a.store = memory.New()
		return nil
	}
	bcfg := cfg.Storage.Badger
	bcfg.Logger = slog.Default().With("component", "badger")
	db, err := badgerstore.OpenDB(bcfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)
	a.store = badgerstore.NewStore(db)
	return nil
}

// Close releases adapters in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// Secrets
// =============================================================================

func openPostgres(ctx context.Context, cfg postgres.Config) (*sql.DB, error) {
	secret, err := config.LoadSecret(config.SecretPostgresPassword)
	if err != nil {
		return nil, err
	}
	var db *sql.DB
	err = secret.Use(func(password string) error {
		db, err = postgres.Open(ctx, cfg, password)
		return err
	})
	return db, err
}

func openRedis(cfg redis.Config) (*goredis.Client, error) {
	secret, err := config.LoadSecret(config.SecretRedisPassword)
	if err != nil {
		return nil, err
	}
	var client *goredis.Client
	err = secret.Use(func(password string) error {
		client = redis.NewClient(cfg, password)
		return nil
	})
	return client, err
}

func openInflux(cfg influx.Config) (*influx.Source, error) {
	secret, err := config.LoadSecret(config.SecretInfluxToken)
	if err != nil {
		return nil, err
	}
	if secret.Empty() {
		return nil, fmt.Errorf("influx is configured but TENANCY_%s is not set", config.SecretInfluxToken)
	}
	var src *influx.Source
	err = secret.Use(func(token string) error {
		src, err = influx.NewSource(cfg, token)
		return err
	})
	return src, err
}

// =============================================================================
// Adapter glue
// =============================================================================

// namespaceResolver maps tenant ids to schema names for the record source.
type namespaceResolver struct {
	tenants *lifecycle.Service
}

func (r namespaceResolver) TenantNamespace(ctx context.Context, tenantID string) (string, error) {
	t, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return schema.NamespaceFor(t.Slug)
}

func retentionTables(in map[string][]string) (map[datatypes.DataCategory][]string, error) {
	out := make(map[datatypes.DataCategory][]string, len(in))
	for name, tables := range in {
		category := datatypes.DataCategory(name)
		if category == datatypes.CategoryNone || !category.Valid() {
			return nil, fmt.Errorf("retention_tables: unknown category %q", name)
		}
		out[category] = tables
	}
	return out, nil
}

// noCache is the cache port when Redis is not configured. There is nothing
// to purge.
type noCache struct{}

func (noCache) PurgeTenant(ctx context.Context, tenantID string) error {
	slog.Debug("tenancy.cache.purge_skipped", "tenant_id", tenantID)
	return nil
}

// noSeries is the cost source when InfluxDB is not configured.
type noSeries struct{}

func (noSeries) CostSeries(context.Context, string, datatypes.ResourceType, time.Time, time.Time) ([]datatypes.CostRecord, error) {
	return nil, nil
}

// emptyDump exports only a manifest when Postgres is not configured.
type emptyDump struct{}

func (emptyDump) DumpNamespace(context.Context, string) (map[string][]json.RawMessage, error) {
	return map[string][]json.RawMessage{}, nil
}
