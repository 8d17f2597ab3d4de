// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	cache, err := Open(Config{InMemory: true, TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestGetMissThenHit(t *testing.T) {
	cache := openTestCache(t, time.Minute)

	_, found, err := cache.Get("k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set("k", []byte("v")))

	value, found, err := cache.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestEntriesExpire(t *testing.T) {
	cache := openTestCache(t, time.Second)

	require.NoError(t, cache.Set("k", []byte("v")))
	time.Sleep(1500 * time.Millisecond)

	_, found, err := cache.Get("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPersistentCacheRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestKeyStability(t *testing.T) {
	k1 := Key("query", []string{"a", "b"}, 5)
	k2 := Key("query", []string{"a", "b"}, 5)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, Key("query", []string{"a", "b"}, 3))
	assert.NotEqual(t, k1, Key("query", []string{"a"}, 5))
	assert.NotEqual(t, k1, Key("other", []string{"a", "b"}, 5))
}

func TestPersistentCacheOnDisk(t *testing.T) {
	cache, err := Open(Config{Path: t.TempDir() + "/cache", TTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Set("k", []byte("v")))
	value, found, err := cache.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}
