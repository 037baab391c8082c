// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package cache holds the in-process caches the engine runs on: the
// per-user model-bundle registry (LRU with idle TTL and eviction
// callbacks) and the event-ID dedup window used by the message ingest
// path.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/amas/internal/metrics"
)

// Eviction reasons as reported to the eviction callback and metrics.
const (
	EvictLRU      = "lru"
	EvictTTL      = "ttl"
	EvictShutdown = "shutdown"
)

type regEntry[V any] struct {
	key        string
	value      V
	prev, next *regEntry[V]
	lastTouch  time.Time
}

// Registry is a concurrent LRU over per-user values with an idle TTL.
// Overfull inserts evict the least recently used entry; SweepIdle evicts
// entries untouched for longer than the TTL. Evicted values are handed to
// the eviction callback outside the registry lock, so the callback may
// take the value's own lock and perform I/O (the engine serialises evicted
// bundles to the store there).
//
// The registry orders and stores values; it never mutates them. Callers
// own all mutation of V under their own synchronisation.
type Registry[V any] struct {
	mu       sync.Mutex
	capacity int
	idleTTL  time.Duration
	onEvict  func(key string, value V, reason string)

	items      map[string]*regEntry[V]
	head, tail *regEntry[V]

	now func() time.Time
}

// NewRegistry builds a registry with the given capacity and idle TTL.
// Non-positive inputs fall back to the production defaults (10000
// bundles, 2h idle). onEvict may be nil.
func NewRegistry[V any](capacity int, idleTTL time.Duration, onEvict func(key string, value V, reason string)) *Registry[V] {
	if capacity <= 0 {
		capacity = 10000
	}
	if idleTTL <= 0 {
		idleTTL = 2 * time.Hour
	}

	r := &Registry[V]{
		capacity: capacity,
		idleTTL:  idleTTL,
		onEvict:  onEvict,
		items:    make(map[string]*regEntry[V], capacity),
		head:     &regEntry[V]{},
		tail:     &regEntry[V]{},
		now:      time.Now,
	}
	r.head.next = r.tail
	r.tail.prev = r.head
	return r
}

// Get returns the value for key and marks it recently used.
func (r *Registry[V]) Get(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[key]
	if !ok {
		metrics.BundleCacheMisses.Inc()
		var zero V
		return zero, false
	}

	entry.lastTouch = r.now()
	r.moveToFront(entry)
	metrics.BundleCacheHits.Inc()
	return entry.value, true
}

// Put inserts or replaces the value for key. When the insert pushes the
// registry over capacity the least recently used entries are evicted and
// handed to the callback.
func (r *Registry[V]) Put(key string, value V) {
	var victims []*regEntry[V]

	r.mu.Lock()
	if entry, ok := r.items[key]; ok {
		entry.value = value
		entry.lastTouch = r.now()
		r.moveToFront(entry)
		r.mu.Unlock()
		return
	}

	entry := &regEntry[V]{key: key, value: value, lastTouch: r.now()}
	r.addToFront(entry)
	r.items[key] = entry

	for len(r.items) > r.capacity {
		oldest := r.tail.prev
		if oldest == r.head {
			break
		}
		r.removeEntry(oldest)
		victims = append(victims, oldest)
	}
	metrics.BundlesResident.Set(float64(len(r.items)))
	r.mu.Unlock()

	r.notify(victims, EvictLRU)
}

// GetOrPut returns the existing value for key, or inserts value and
// returns it. loaded reports whether an existing entry won; when it did,
// the caller's value was never inserted and no eviction fires for it.
// Two goroutines materialising the same key therefore converge on one
// value instead of the second silently replacing the first.
func (r *Registry[V]) GetOrPut(key string, value V) (V, bool) {
	var victims []*regEntry[V]

	r.mu.Lock()
	if entry, ok := r.items[key]; ok {
		entry.lastTouch = r.now()
		r.moveToFront(entry)
		r.mu.Unlock()
		return entry.value, true
	}

	entry := &regEntry[V]{key: key, value: value, lastTouch: r.now()}
	r.addToFront(entry)
	r.items[key] = entry

	for len(r.items) > r.capacity {
		oldest := r.tail.prev
		if oldest == r.head {
			break
		}
		r.removeEntry(oldest)
		victims = append(victims, oldest)
	}
	metrics.BundlesResident.Set(float64(len(r.items)))
	r.mu.Unlock()

	r.notify(victims, EvictLRU)
	return value, false
}

// Remove deletes key without invoking the eviction callback; the caller
// has already taken ownership of the value.
func (r *Registry[V]) Remove(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	r.removeEntry(entry)
	metrics.BundlesResident.Set(float64(len(r.items)))
	return entry.value, true
}

// Len reports the number of resident entries.
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// SweepIdle evicts every entry untouched for longer than the idle TTL and
// returns how many were evicted.
func (r *Registry[V]) SweepIdle() int {
	cutoff := r.now().Add(-r.idleTTL)
	var victims []*regEntry[V]

	r.mu.Lock()
	for entry := r.tail.prev; entry != r.head; {
		prev := entry.prev
		if entry.lastTouch.Before(cutoff) {
			r.removeEntry(entry)
			victims = append(victims, entry)
		}
		entry = prev
	}
	metrics.BundlesResident.Set(float64(len(r.items)))
	r.mu.Unlock()

	r.notify(victims, EvictTTL)
	return len(victims)
}

// Drain evicts every entry, oldest first. Used at shutdown so each bundle
// gets a final snapshot through the eviction callback.
func (r *Registry[V]) Drain() int {
	var victims []*regEntry[V]

	r.mu.Lock()
	for entry := r.tail.prev; entry != r.head; entry = r.tail.prev {
		r.removeEntry(entry)
		victims = append(victims, entry)
	}
	metrics.BundlesResident.Set(0)
	r.mu.Unlock()

	r.notify(victims, EvictShutdown)
	return len(victims)
}

// Keys returns the resident keys, most recently used first.
func (r *Registry[V]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.items))
	for entry := r.head.next; entry != r.tail; entry = entry.next {
		out = append(out, entry.key)
	}
	return out
}

// Serve runs the idle sweeper until the context ends, making the registry
// a supervisable service. The sweep cadence is a quarter of the idle TTL.
func (r *Registry[V]) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.idleTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.SweepIdle()
		}
	}
}

// String names the service in supervisor logs.
func (r *Registry[V]) String() string { return "bundle-registry" }

func (r *Registry[V]) notify(victims []*regEntry[V], reason string) {
	if len(victims) == 0 {
		return
	}
	metrics.BundleCacheEvictions.WithLabelValues(reason).Add(float64(len(victims)))
	if r.onEvict == nil {
		return
	}
	for _, v := range victims {
		r.onEvict(v.key, v.value, reason)
	}
}

// list helpers; callers hold r.mu.

func (r *Registry[V]) addToFront(entry *regEntry[V]) {
	entry.prev = r.head
	entry.next = r.head.next
	r.head.next.prev = entry
	r.head.next = entry
}

func (r *Registry[V]) moveToFront(entry *regEntry[V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	r.addToFront(entry)
}

func (r *Registry[V]) removeEntry(entry *regEntry[V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(r.items, entry.key)
}
