// cache.go: Per-key fill-or-fetch cache shared by the registry and the converter manager
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"sync"
	"sync/atomic"
)

// cacheEntry holds one cached value. ready is stored after val is written,
// so a reader that observes ready also observes the complete value.
type cacheEntry[V any] struct {
	mu    sync.Mutex
	ready atomic.Bool
	val   V
}

// keyedCache is a concurrency-safe map where each key is filled at most once
// at a time. Filling one key never blocks readers or writers of other keys.
// Failed fills are not cached.
type keyedCache[K comparable, V any] struct {
	entries sync.Map // K -> *cacheEntry[V]
}

// getOrFill returns the cached value for key, calling fill under the key's
// lock when absent. valid may reject a cached value (e.g. stale generation),
// in which case it is recomputed.
func (c *keyedCache[K, V]) getOrFill(key K, fill func() (V, error), valid func(V) bool) (V, error) {
	usable := func(e *cacheEntry[V]) bool {
		return e.ready.Load() && (valid == nil || valid(e.val))
	}

	for {
		raw, _ := c.entries.LoadOrStore(key, &cacheEntry[V]{})
		entry := raw.(*cacheEntry[V])
		if usable(entry) {
			return entry.val, nil
		}

		entry.mu.Lock()
		// The entry may have been replaced or invalidated while we waited
		if current, ok := c.entries.Load(key); !ok || current != raw {
			entry.mu.Unlock()
			continue
		}
		if usable(entry) {
			entry.mu.Unlock()
			return entry.val, nil
		}

		val, err := fill()
		if err != nil {
			entry.mu.Unlock()
			var zero V
			return zero, err
		}

		if !entry.ready.Load() {
			entry.val = val
			entry.ready.Store(true)
		} else {
			// Stale entry: readers may hold it, swap in a fresh one
			fresh := &cacheEntry[V]{val: val}
			fresh.ready.Store(true)
			c.entries.Store(key, fresh)
		}
		entry.mu.Unlock()
		return val, nil
	}
}

// peek returns a cached value without filling.
func (c *keyedCache[K, V]) peek(key K) (V, bool) {
	if raw, ok := c.entries.Load(key); ok {
		entry := raw.(*cacheEntry[V])
		if entry.ready.Load() {
			return entry.val, true
		}
	}
	var zero V
	return zero, false
}

// invalidate drops a single key.
func (c *keyedCache[K, V]) invalidate(key K) {
	c.entries.Delete(key)
}

// reset drops every key.
func (c *keyedCache[K, V]) reset() {
	c.entries.Clear()
}

// len counts populated entries.
func (c *keyedCache[K, V]) len() int {
	n := 0
	c.entries.Range(func(_, raw any) bool {
		if raw.(*cacheEntry[V]).ready.Load() {
			n++
		}
		return true
	})
	return n
}
