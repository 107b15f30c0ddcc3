// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// NamespaceResolver maps a tenant id to its schema name.
type NamespaceResolver interface {
	TenantNamespace(ctx context.Context, tenantID string) (string, error)
}

// RecordSource implements retention.RecordSource over tenant schemas.
//
// Each category maps to tables with columns id, created_at and deleted_at.
// Soft delete sets deleted_at; hard delete removes the row.
type RecordSource struct {
	db       *sql.DB
	resolver NamespaceResolver
	tables   map[datatypes.DataCategory][]string
}

// NewRecordSource creates a RecordSource. tables maps each category to the
// tenant-schema tables that hold it.
func NewRecordSource(db *sql.DB, resolver NamespaceResolver, tables map[datatypes.DataCategory][]string) (*RecordSource, error) {
	for category, names := range tables {
		if !category.Valid() {
			return nil, fmt.Errorf("postgres: unknown category %q", category)
		}
		for _, t := range names {
			if !identPattern.MatchString(t) {
				return nil, fmt.Errorf("postgres: invalid table name %q for %s", t, category)
			}
		}
	}
	return &RecordSource{db: db, resolver: resolver, tables: tables}, nil
}

func (s *RecordSource) namespace(ctx context.Context, tenantID string) (string, error) {
	ns, err := s.resolver.TenantNamespace(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return ns, checkNamespace(ns)
}

// ListRetained returns every row of category's tables for tenantID.
func (s *RecordSource) ListRetained(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetainedRecord, error) {
	tables := s.tables[category]
	if len(tables) == 0 {
		return nil, nil
	}
	ns, err := s.namespace(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var out []datatypes.RetainedRecord
	for _, t := range tables {
		rows, err := s.db.QueryContext(ctx,
			"SELECT id::text, created_at, deleted_at FROM "+qualified(ns, t)+" ORDER BY created_at")
		if err != nil {
			return nil, fmt.Errorf("postgres: list %s.%s: %w", ns, t, err)
		}
		for rows.Next() {
			r := datatypes.RetainedRecord{TenantID: tenantID, Table: t, Category: category}
			var deleted pq.NullTime
			if err := rows.Scan(&r.RecordID, &r.CreatedAt, &deleted); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: scan %s.%s: %w", ns, t, err)
			}
			if deleted.Valid {
				at := deleted.Time
				r.SoftDeletedAt = &at
			}
			out = append(out, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func groupByTable(records []datatypes.RetainedRecord) (map[string][]string, []string) {
	byTable := make(map[string][]string)
	var order []string
	for _, r := range records {
		if _, ok := byTable[r.Table]; !ok {
			order = append(order, r.Table)
		}
		byTable[r.Table] = append(byTable[r.Table], r.RecordID)
	}
	return byTable, order
}

// SoftDelete stamps deleted_at on records that are not yet soft-deleted.
func (s *RecordSource) SoftDelete(ctx context.Context, tenantID string, records []datatypes.RetainedRecord, at time.Time) (int64, error) {
	return s.apply(ctx, tenantID, records, func(table string) string {
		return "UPDATE " + table + " SET deleted_at = $2 WHERE id::text = ANY($1) AND deleted_at IS NULL"
	}, at)
}

// HardDelete removes records.
func (s *RecordSource) HardDelete(ctx context.Context, tenantID string, records []datatypes.RetainedRecord) (int64, error) {
	return s.apply(ctx, tenantID, records, func(table string) string {
		return "DELETE FROM " + table + " WHERE id::text = ANY($1)"
	})
}

func (s *RecordSource) apply(ctx context.Context, tenantID string, records []datatypes.RetainedRecord, stmt func(table string) string, extra ...any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ns, err := s.namespace(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	byTable, order := groupByTable(records)
	var total int64
	for _, t := range order {
		if !identPattern.MatchString(t) {
			return 0, fmt.Errorf("postgres: invalid table name %q", t)
		}
		args := append([]any{pq.Array(byTable[t])}, extra...)
		res, err := tx.ExecContext(ctx, stmt(qualified(ns, t)), args...)
		if err != nil {
			return 0, fmt.Errorf("postgres: apply retention to %s.%s: %w", ns, t, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit retention: %w", err)
	}
	return total, nil
}

// Dumper reads tenant tables for export packages.
type Dumper struct {
	db *sql.DB
}

// NewDumper creates a Dumper.
func NewDumper(db *sql.DB) *Dumper {
	return &Dumper{db: db}
}

// DumpNamespace returns every row of every table in namespace as JSON
// objects, keyed by table name.
func (d *Dumper) DumpNamespace(ctx context.Context, namespace string) (map[string][]json.RawMessage, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	tables, err := schemaTables(ctx, d.db, namespace)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]json.RawMessage, len(tables))
	for _, t := range tables {
		rows, err := d.db.QueryContext(ctx, "SELECT row_to_json(t)::text FROM "+qualified(namespace, t)+" t")
		if err != nil {
			return nil, fmt.Errorf("postgres: dump %s.%s: %w", namespace, t, err)
		}
		records := []json.RawMessage{}
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, json.RawMessage(raw))
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		out[t] = records
	}
	return out, nil
}
