// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs stores tenant export packages in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config holds bucket settings.
type Config struct {
	ProjectID string `yaml:"project_id"`
	Bucket    string `yaml:"bucket" validate:"required"`
	Prefix    string `yaml:"prefix"`
	KeyPath   string `yaml:"key_path"`
}

// ObjectStore writes immutable objects.
type ObjectStore interface {
	Upload(ctx context.Context, object, contentType string, data []byte) (uri string, err error)
}

// Client writes objects to one GCS bucket.
type Client struct {
	storageClient *storage.Client
	ProjectID     string
	BucketName    string
}

// NewClient creates a Client. An empty keyPath uses application default
// credentials.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.KeyPath != "" {
		if _, err := os.Stat(cfg.KeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.KeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.KeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{
		storageClient: storageClient,
		ProjectID:     cfg.ProjectID,
		BucketName:    cfg.Bucket,
	}, nil
}

// Upload writes data to object. The write fails if the object already
// exists so an export is never overwritten.
func (c *Client) Upload(ctx context.Context, object, contentType string, data []byte) (string, error) {
	obj := c.storageClient.Bucket(c.BucketName).Object(object).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", c.BucketName, object)
	slog.Info("tenancy.gcs.object_uploaded", "uri", uri, "size_bytes", len(data))
	return uri, nil
}

// Close releases the storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}
