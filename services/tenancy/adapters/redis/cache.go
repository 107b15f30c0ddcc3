// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redis implements the tenant cache purge port on Redis.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis connection settings. The password is supplied
// separately from the secret store.
type Config struct {
	Addr      string `yaml:"addr" validate:"required,hostname_port"`
	DB        int    `yaml:"db" validate:"gte=0,lte=15"`
	KeyPrefix string `yaml:"key_prefix"`
	ScanCount int64  `yaml:"scan_count"`
}

// NewClient creates a go-redis client.
func NewClient(cfg Config, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: password,
		DB:       cfg.DB,
	})
}

// Cache implements ports.CachePort.
//
// Tenant-scoped keys follow "<prefix>tenant:<id>:*". PurgeTenant removes
// them with SCAN and UNLINK so large tenants do not block the server.
type Cache struct {
	client    redis.UniversalClient
	prefix    string
	scanCount int64
}

// NewCache creates a Cache over client.
func NewCache(client redis.UniversalClient, cfg Config) *Cache {
	count := cfg.ScanCount
	if count <= 0 {
		count = 500
	}
	return &Cache{client: client, prefix: cfg.KeyPrefix, scanCount: count}
}

// TenantPattern returns the key pattern owned by tenantID.
func (c *Cache) TenantPattern(tenantID string) string {
	return c.prefix + "tenant:" + tenantID + ":*"
}

// PurgeTenant deletes every cached key of tenantID. Purging a tenant with
// no keys succeeds.
func (c *Cache) PurgeTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("redis: tenant id is required")
	}

	pattern := c.TenantPattern(tenantID)
	var cursor uint64
	var removed int64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, c.scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("redis: unlink %d keys: %w", len(keys), err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	slog.Info("tenancy.redis.tenant_purged", "tenant_id", tenantID, "keys_removed", removed)
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
