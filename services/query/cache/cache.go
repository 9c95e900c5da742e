// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the TTL cache that backs the retrieval, generation
// and embedding stages of the query pipeline.
//
// The cache is best-effort by contract: losing it is equivalent to a cold
// start, never a correctness violation. Callers inside the pipeline go
// through SafeGet/SafeSet, which absorb every cache error so an outage
// degrades to "always miss".
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepInterval is how often the background sweeper scans for expired
// entries. Expiry is also enforced lazily on Get, so the sweep only bounds
// memory; it never affects visibility.
const sweepInterval = 60 * time.Second

// Cache is the key/value store contract the pipeline caches against.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from many in-flight
// queries.
type Cache interface {
	// Get returns the value stored under key, or ok=false if the key is
	// absent or its entry has expired.
	Get(ctx context.Context, key string) (value any, ok bool, err error)

	// Set stores value under key. A positive ttl overrides the default
	// entry lifetime; zero applies the default; if the default is also
	// zero the entry never expires.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes the entry under key, if any.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

type entry struct {
	value     any
	expiresAt time.Time // zero means never expires
}

// MemoryCache is an in-process Cache with per-entry expiry.
//
// Expired entries are invisible to Get (lazy expiry) and are additionally
// swept on a fixed interval so unread entries do not accumulate. The sweep
// goroutine holds the lock only while scanning; it never blocks Set/Get
// callers for the duration of a sweep cycle.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// NewMemoryCache creates a MemoryCache and starts its background sweeper.
// defaultTTL of zero means entries without an explicit ttl never expire.
// Call Close to stop the sweeper when the cache is no longer needed.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// newMemoryCacheNoSweep is the test constructor: injectable clock, no
// background goroutine.
func newMemoryCacheNoSweep(defaultTTL time.Duration, now func() time.Time) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        now,
		stop:       make(chan struct{}),
	}
}

// Get implements Cache. Expired entries are deleted on sight.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another query may have replaced
		// the entry with a fresh one in the meantime.
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return e.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: expiresAt}
	c.mu.Unlock()

	slog.Debug("cache entry set", "key", key, "ttl", ttl)
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

// GetStats returns current occupancy, for the health endpoint.
func (c *MemoryCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return Stats{Size: len(c.entries), Keys: keys}
}

// Close stops the background sweeper. The cache remains usable afterwards;
// only proactive expiry stops.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries. Best-effort: it runs under the write lock
// but the scan is a single pass over the map.
func (c *MemoryCache) sweep() {
	now := c.now()
	cleaned := 0

	c.mu.Lock()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
			cleaned++
		}
	}
	c.mu.Unlock()

	if cleaned > 0 {
		slog.Debug("cleaned up expired cache entries", "cleaned", cleaned)
	}
}

// SafeGet wraps Cache.Get so that a nil cache or an internal cache error
// reads as a miss. The pipeline must never fail a query because of the
// cache.
func SafeGet(ctx context.Context, c Cache, key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	value, ok, err := c.Get(ctx, key)
	if err != nil {
		slog.Debug("cache get failed, continuing without cache", "key", key, "error", err)
		return nil, false
	}
	return value, ok
}

// SafeSet wraps Cache.Set, absorbing any error.
func SafeSet(ctx context.Context, c Cache, key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		slog.Debug("cache set failed, continuing without cache", "key", key, "error", err)
	}
}
