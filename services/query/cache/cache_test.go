// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestCache(defaultTTL time.Duration) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newMemoryCacheNoSweep(defaultTTL, clock.Now), clock
}

// erroringCache fails every operation, for SafeGet/SafeSet tests.
type erroringCache struct{}

var errCacheDown = errors.New("cache backend down")

func (erroringCache) Get(context.Context, string) (any, bool, error) {
	return nil, false, errCacheDown
}
func (erroringCache) Set(context.Context, string, any, time.Duration) error {
	return errCacheDown
}
func (erroringCache) Delete(context.Context, string) error { return errCacheDown }
func (erroringCache) Clear(context.Context) error          { return errCacheDown }

// =============================================================================
// MemoryCache Tests
// =============================================================================

// TestMemoryCache_SetAndGet verifies a basic round trip.
func TestMemoryCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

// TestMemoryCache_MissOnAbsentKey verifies an absent key reads as a clean
// miss, not an error.
func TestMemoryCache_MissOnAbsentKey(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	_, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMemoryCache_LazyExpiry verifies an expired entry is invisible to
// Get and removed on sight.
func TestMemoryCache_LazyExpiry(t *testing.T) {
	c, clock := newTestCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	clock.Advance(59 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok, "entry should still be visible before expiry")

	clock.Advance(2 * time.Second)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should read as a miss")
	assert.Equal(t, 0, c.GetStats().Size, "expired entry should be deleted on sight")
}

// TestMemoryCache_ExplicitTTLOverridesDefault verifies a per-entry ttl
// wins over the default.
func TestMemoryCache_ExplicitTTLOverridesDefault(t *testing.T) {
	c, clock := newTestCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", time.Second))
	require.NoError(t, c.Set(ctx, "long", "v", 0)) // default: one hour

	clock.Advance(2 * time.Second)
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)
}

// TestMemoryCache_ZeroDefaultNeverExpires verifies entries without any
// ttl live forever when the default is zero.
func TestMemoryCache_ZeroDefaultNeverExpires(t *testing.T) {
	c, clock := newTestCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	clock.Advance(1000 * time.Hour)

	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)
}

// TestMemoryCache_Sweep verifies the sweep pass removes expired entries
// that were never read.
func TestMemoryCache_Sweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, time.Hour))

	clock.Advance(2 * time.Minute)
	c.sweep()

	stats := c.GetStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, []string{"b"}, stats.Keys)
}

// TestMemoryCache_DeleteAndClear covers removal paths.
func TestMemoryCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.GetStats().Size)
}

// TestMemoryCache_Overwrite verifies Set replaces both value and expiry.
func TestMemoryCache_Overwrite(t *testing.T) {
	c, clock := newTestCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "old", time.Second))
	require.NoError(t, c.Set(ctx, "k", "new", time.Minute))

	clock.Advance(2 * time.Second)
	value, ok, _ := c.Get(ctx, "k")
	require.True(t, ok, "overwrite should refresh the expiry")
	assert.Equal(t, "new", value)
}

// TestMemoryCache_CloseIsIdempotent verifies double Close does not panic
// and the cache stays usable.
func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	c.Close()
	c.Close()

	require.NoError(t, c.Set(context.Background(), "k", "v", 0))
	_, ok, _ := c.Get(context.Background(), "k")
	assert.True(t, ok)
}

// =============================================================================
// SafeGet / SafeSet Tests
// =============================================================================

// TestSafeGet_AbsorbsErrors verifies a broken cache reads as always-miss.
func TestSafeGet_AbsorbsErrors(t *testing.T) {
	_, ok := SafeGet(context.Background(), erroringCache{}, "k")
	assert.False(t, ok)
}

// TestSafeSet_AbsorbsErrors verifies a failing write does not panic or
// propagate.
func TestSafeSet_AbsorbsErrors(t *testing.T) {
	assert.NotPanics(t, func() {
		SafeSet(context.Background(), erroringCache{}, "k", "v", time.Minute)
	})
}

// TestSafeGetSet_NilCache verifies a nil cache behaves as always-miss.
func TestSafeGetSet_NilCache(t *testing.T) {
	_, ok := SafeGet(context.Background(), nil, "k")
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		SafeSet(context.Background(), nil, "k", "v", time.Minute)
	})
}
