// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gcs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/ports"
)

// TableSource reads every table of a tenant namespace as JSON rows.
type TableSource interface {
	DumpNamespace(ctx context.Context, namespace string) (map[string][]json.RawMessage, error)
}

// Manifest describes the contents of an export package.
type Manifest struct {
	TenantID   string           `json:"tenant_id"`
	Namespace  string           `json:"namespace"`
	ExportedAt time.Time        `json:"exported_at"`
	Tables     []string         `json:"tables"`
	RowCounts  map[string]int64 `json:"row_counts"`
}

// Exporter implements ports.BackupPort.
//
// # Description
//
// ExportTenant dumps the tenant namespace, packs it as a gzip'd tar
// holding manifest.json and one <table>.json per table, and uploads it as
// <prefix>/<tenant_id>/<unix_nanos>.tar.gz. The returned checksum is the
// hex SHA-256 of the archive bytes.
type Exporter struct {
	source TableSource
	store  ObjectStore
	prefix string
	clock  ports.Clock
}

// NewExporter creates an Exporter.
func NewExporter(source TableSource, store ObjectStore, prefix string, clk ports.Clock) *Exporter {
	return &Exporter{source: source, store: store, prefix: prefix, clock: clk}
}

// ExportTenant builds and uploads the export package.
func (e *Exporter) ExportTenant(ctx context.Context, tenantID, namespace string) (datatypes.PackageRef, error) {
	dump, err := e.source.DumpNamespace(ctx, namespace)
	if err != nil {
		return datatypes.PackageRef{}, fmt.Errorf("gcs: dump %s: %w", namespace, err)
	}

	exportedAt := e.clock.Now().UTC()
	archive, manifest, err := BuildPackage(tenantID, namespace, exportedAt, dump)
	if err != nil {
		return datatypes.PackageRef{}, err
	}

	sum := sha256.Sum256(archive)
	object := path.Join(e.prefix, tenantID, fmt.Sprintf("%d.tar.gz", exportedAt.UnixNano()))
	uri, err := e.store.Upload(ctx, object, "application/gzip", archive)
	if err != nil {
		return datatypes.PackageRef{}, err
	}

	ref := datatypes.PackageRef{
		URI:       uri,
		Checksum:  hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(archive)),
		Tables:    len(manifest.Tables),
	}
	slog.Info("tenancy.gcs.exported",
		"tenant_id", tenantID,
		"uri", uri,
		"tables", len(manifest.Tables),
		"size_bytes", ref.SizeBytes,
	)
	return ref, nil
}

// BuildPackage renders the archive for dump. Output is deterministic for
// identical inputs: tables are written in name order with exportedAt as
// the modification time.
func BuildPackage(tenantID, namespace string, exportedAt time.Time, dump map[string][]json.RawMessage) ([]byte, Manifest, error) {
	tables := make([]string, 0, len(dump))
	for t := range dump {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	manifest := Manifest{
		TenantID:   tenantID,
		Namespace:  namespace,
		ExportedAt: exportedAt,
		Tables:     tables,
		RowCounts:  make(map[string]int64, len(tables)),
	}
	for _, t := range tables {
		manifest.RowCounts[t] = int64(len(dump[t]))
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("gcs: encode manifest: %w", err)
	}
	if err := writeEntry(tw, "manifest.json", manifestJSON, exportedAt); err != nil {
		return nil, Manifest{}, err
	}

	for _, t := range tables {
		rows := dump[t]
		if rows == nil {
			rows = []json.RawMessage{}
		}
		data, err := json.Marshal(rows)
		if err != nil {
			return nil, Manifest{}, fmt.Errorf("gcs: encode table %s: %w", t, err)
		}
		if err := writeEntry(tw, t+".json", data, exportedAt); err != nil {
			return nil, Manifest{}, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, Manifest{}, fmt.Errorf("gcs: close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, Manifest{}, fmt.Errorf("gcs: close gzip: %w", err)
	}
	return buf.Bytes(), manifest, nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("gcs: tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("gcs: tar write %s: %w", name, err)
	}
	return nil
}
