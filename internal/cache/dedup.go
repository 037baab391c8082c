// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package cache

import (
	"sync"
	"time"
)

type dedupEntry struct {
	key        string
	prev, next *dedupEntry
	expiresAt  time.Time
}

// Dedup is a bounded LRU window over recently seen keys. The ingest path
// uses it to drop JetStream redeliveries: at-least-once delivery means an
// event ID can arrive twice, and replaying it would double-count the
// reward.
//
// Seen answers "have I seen this key inside the window" and records it if
// not. O(1) per call; safe for concurrent use.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration

	items      map[string]*dedupEntry
	head, tail *dedupEntry

	hits, misses int64

	now func() time.Time
}

// NewDedup builds a window holding up to capacity keys for ttl each.
// Non-positive inputs fall back to 65536 keys and 10 minutes, which covers
// the redelivery horizon of the default stream settings.
func NewDedup(capacity int, ttl time.Duration) *Dedup {
	if capacity <= 0 {
		capacity = 65536
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	d := &Dedup{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*dedupEntry, capacity),
		head:     &dedupEntry{},
		tail:     &dedupEntry{},
		now:      time.Now,
	}
	d.head.next = d.tail
	d.tail.prev = d.head
	return d
}

// Seen reports whether key was recorded inside the window, recording it
// when not. A true return means the caller should drop the message.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if entry, ok := d.items[key]; ok {
		if now.Before(entry.expiresAt) {
			d.moveToFront(entry)
			d.hits++
			return true
		}
		d.removeEntry(entry)
	}

	entry := &dedupEntry{key: key, expiresAt: now.Add(d.ttl)}
	d.addToFront(entry)
	d.items[key] = entry

	for len(d.items) > d.capacity {
		oldest := d.tail.prev
		if oldest == d.head {
			break
		}
		d.removeEntry(oldest)
	}

	d.misses++
	return false
}

// Len reports the number of keys currently held.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Stats returns duplicate/first-seen counts and the resident size.
func (d *Dedup) Stats() (duplicates, firstSeen int64, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits, d.misses, len(d.items)
}

// list helpers; callers hold d.mu.

func (d *Dedup) addToFront(entry *dedupEntry) {
	entry.prev = d.head
	entry.next = d.head.next
	d.head.next.prev = entry
	d.head.next = entry
}

func (d *Dedup) moveToFront(entry *dedupEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	d.addToFront(entry)
}

func (d *Dedup) removeEntry(entry *dedupEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(d.items, entry.key)
}
