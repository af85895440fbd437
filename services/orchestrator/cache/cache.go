// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the in-memory result cache with per-entry TTL used
// to avoid redundant recomputation of analysis results.
//
// The cache is best-effort: operations never fail the caller. A read after
// an entry's expiry behaves exactly as absent, whether or not the janitor
// has swept the entry yet.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/observability"
)

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a TTL key/value store with a cache-aside helper and pattern-based
// invalidation.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Concurrent GetOrSet calls for the
// same key are collapsed into a single compute via singleflight.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache. If janitorInterval is positive, a background janitor
// sweeps expired entries on that interval until Close is called; expiry is
// also enforced lazily on every read, so the janitor only bounds memory.
func New(janitorInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	if janitorInterval > 0 {
		go c.janitor(janitorInterval)
	}
	return c
}

// Get returns the value for key, or false if absent or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.expired(time.Now()) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		observability.RecordCacheRequest("hit")
		return e.value, true
	}
	observability.RecordCacheRequest("miss")
	return nil, false
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrSet returns the cached value if present and unexpired; otherwise it
// invokes compute, stores the result with ttl, and returns it. Concurrent
// misses for the same key share one compute invocation. A compute error is
// returned to the caller and nothing is cached; the cache itself never
// produces an error.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration,
	compute func(ctx context.Context) (any, error)) (any, error) {

	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under singleflight: a concurrent winner may have
		// populated the entry between our miss and this call.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && !e.expired(time.Now()) {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()

		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	return v, err
}

// Invalidate removes one key, or all keys sharing a prefix when the pattern
// ends with '*'. Returns the number of entries removed.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		removed := 0
		for k := range c.entries {
			if strings.HasPrefix(k, prefix) {
				delete(c.entries, k)
				removed++
			}
		}
		return removed
	}

	if _, ok := c.entries[pattern]; ok {
		delete(c.entries, pattern)
		return 1
	}
	return 0
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the janitor. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// janitor runs the ticker + done loop sweeping expired entries.
func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			swept := 0
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
					swept++
				}
			}
			remaining := len(c.entries)
			c.mu.Unlock()
			if swept > 0 {
				slog.Debug("cache janitor sweep", "swept", swept, "remaining", remaining)
			}
		}
	}
}
