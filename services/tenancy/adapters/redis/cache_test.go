// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, prefix string) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(Config{Addr: mr.Addr()}, "")
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, Config{KeyPrefix: prefix, ScanCount: 10}), mr
}

func TestPurgeTenant(t *testing.T) {
	c, mr := newCache(t, "app:")
	ctx := context.Background()

	for i := 0; i < 35; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("app:tenant:t1:session:%d", i), "x"))
	}
	require.NoError(t, mr.Set("app:tenant:t2:session:1", "keep"))
	require.NoError(t, mr.Set("app:tenant:t10:profile", "keep"))
	require.NoError(t, mr.Set("app:global:config", "keep"))

	require.NoError(t, c.PurgeTenant(ctx, "t1"))

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "tenant:t1:")
	}
	assert.True(t, mr.Exists("app:tenant:t2:session:1"))
	assert.True(t, mr.Exists("app:tenant:t10:profile"))
	assert.True(t, mr.Exists("app:global:config"))
}

func TestPurgeTenant_NoKeys(t *testing.T) {
	c, _ := newCache(t, "")
	assert.NoError(t, c.PurgeTenant(context.Background(), "t1"))
	assert.Error(t, c.PurgeTenant(context.Background(), ""))
}

func TestPurgeTenant_ServerDown(t *testing.T) {
	c, mr := newCache(t, "")
	mr.Close()
	err := c.PurgeTenant(context.Background(), "t1")
	assert.Error(t, err)
}

func TestTenantPattern(t *testing.T) {
	c, _ := newCache(t, "svc:")
	assert.Equal(t, "svc:tenant:abc:*", c.TenantPattern("abc"))
	assert.NoError(t, c.Ping(context.Background()))
}
