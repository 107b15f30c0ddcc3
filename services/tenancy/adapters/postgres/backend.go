// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package postgres implements the tenant storage backend on PostgreSQL,
// one schema per tenant.
//
// # Description
//
// Namespaces map to Postgres schemas. Tenant-scoped rows live either in
// tables inside the tenant schema or in shared tables keyed by a tenant_id
// column. Every identifier is checked against a strict pattern and quoted
// with pq.QuoteIdentifier before it reaches SQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/lib/pq"
)

// namespacePattern matches namespaces produced by schema.NamespaceFor.
var namespacePattern = regexp.MustCompile(`^tenant_[a-z0-9_]{1,56}$`)

// identPattern matches table names accepted from configuration.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config holds connection settings.
type Config struct {
	Host         string        `yaml:"host" validate:"required"`
	Port         int           `yaml:"port" validate:"gte=1,lte=65535"`
	User         string        `yaml:"user" validate:"required"`
	Database     string        `yaml:"database" validate:"required"`
	SSLMode      string        `yaml:"ssl_mode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnTimeout  time.Duration `yaml:"conn_timeout"`

	// SharedTables are tables outside tenant schemas that hold rows keyed
	// by a tenant_id column. They are cleared by cascade delete.
	SharedTables []string `yaml:"shared_tables"`
}

// DSN renders a lib/pq connection string. The password is passed
// separately so it never sits in the config struct.
func (c Config) DSN(password string) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if password != "" {
		dsn += " password=" + quoteDSNValue(password)
	}
	if c.ConnTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", int(c.ConnTimeout.Seconds()))
	}
	return dsn
}

func quoteDSNValue(v string) string {
	out := []byte{'\''}
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' || v[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, v[i])
	}
	return string(append(out, '\''))
}

// Open connects to Postgres and pings it.
func Open(ctx context.Context, cfg Config, password string) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN(password))
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// Backend implements ports.StorageBackend.
type Backend struct {
	db           *sql.DB
	sharedTables []string
}

// NewBackend creates a Backend. Shared table names that fail validation
// are rejected.
func NewBackend(db *sql.DB, sharedTables []string) (*Backend, error) {
	for _, t := range sharedTables {
		if !identPattern.MatchString(t) {
			return nil, fmt.Errorf("postgres: invalid shared table name %q", t)
		}
	}
	return &Backend{db: db, sharedTables: sharedTables}, nil
}

func checkNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("postgres: invalid namespace %q", ns)
	}
	return nil
}

// CreateNamespace creates the tenant schema if it does not exist.
func (b *Backend) CreateNamespace(ctx context.Context, namespace string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(namespace)); err != nil {
		return fmt.Errorf("postgres: create schema %s: %w", namespace, err)
	}
	slog.Info("tenancy.postgres.schema_created", "namespace", namespace)
	return nil
}

// DropNamespace drops the tenant schema and everything in it.
func (b *Backend) DropNamespace(ctx context.Context, namespace string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(namespace)+" CASCADE"); err != nil {
		return fmt.Errorf("postgres: drop schema %s: %w", namespace, err)
	}
	slog.Info("tenancy.postgres.schema_dropped", "namespace", namespace)
	return nil
}

// CascadeDeleteTenantData deletes every tenant row and reports how many
// remain.
//
// # Description
//
// Runs in one transaction: deletes all rows from each table in the tenant
// schema and the tenant's rows from each shared table, then counts what is
// left. A missing schema counts as zero rows.
//
// # Outputs
//
//   - int64: Rows remaining after the delete. Non-zero means something
//     re-inserted rows concurrently or a table is protected by a rule.
//   - error: Query failure.
func (b *Backend) CascadeDeleteTenantData(ctx context.Context, tenantID, namespace string) (int64, error) {
	if err := checkNamespace(namespace); err != nil {
		return 0, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables, err := schemaTables(ctx, tx, namespace)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, t := range tables {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+qualified(namespace, t))
		if err != nil {
			return 0, fmt.Errorf("postgres: delete from %s.%s: %w", namespace, t, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	for _, t := range b.sharedTables {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(t)+" WHERE tenant_id = $1", tenantID)
		if err != nil {
			return 0, fmt.Errorf("postgres: delete tenant rows from %s: %w", t, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	var remaining int64
	for _, t := range tables {
		var n int64
		if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM "+qualified(namespace, t)).Scan(&n); err != nil {
			return 0, fmt.Errorf("postgres: count %s.%s: %w", namespace, t, err)
		}
		remaining += n
	}
	for _, t := range b.sharedTables {
		var n int64
		if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM "+pq.QuoteIdentifier(t)+" WHERE tenant_id = $1", tenantID).Scan(&n); err != nil {
			return 0, fmt.Errorf("postgres: count tenant rows in %s: %w", t, err)
		}
		remaining += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit cascade delete: %w", err)
	}
	slog.Info("tenancy.postgres.cascade_deleted",
		"tenant_id", tenantID,
		"namespace", namespace,
		"tables", len(tables)+len(b.sharedTables),
		"rows_deleted", deleted,
		"rows_remaining", remaining,
	)
	return remaining, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const tablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

// schemaTables lists the base tables of namespace.
func schemaTables(ctx context.Context, q queryer, namespace string) ([]string, error) {
	rows, err := q.QueryContext(ctx, tablesQuery, namespace)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables in %s: %w", namespace, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func qualified(namespace, table string) string {
	return pq.QuoteIdentifier(namespace) + "." + pq.QuoteIdentifier(table)
}
