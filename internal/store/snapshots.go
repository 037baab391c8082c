// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package store persists model bundles and decision records off the event
// path. Snapshots live in BadgerDB keyed by user; decision records flow
// through an asynchronous writer into DuckDB behind a circuit breaker.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/logging"
)

// Key prefixes. The payload and its metadata are separate keys so readers
// that only need the version never copy the bundle bytes.
const (
	prefixSnapshot = "snapshot:"
	prefixSnapmeta = "snapmeta:"
)

var (
	// ErrNoSnapshot is returned when a user has no persisted bundle.
	ErrNoSnapshot = errors.New("no snapshot for user")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("snapshot store is closed")

	// ErrEmptyUserID rejects keyless writes and reads.
	ErrEmptyUserID = errors.New("empty user id")

	// ErrEmptyPayload rejects snapshots with no bundle bytes.
	ErrEmptyPayload = errors.New("empty snapshot payload")
)

// SnapshotMeta describes a persisted bundle without carrying its bytes.
type SnapshotMeta struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotStore is the durable per-user model bundle store. Writes are
// idempotent full snapshots; the newest write wins per user.
type SnapshotStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// OpenSnapshotStore opens (or creates) the Badger database at cfg.Path.
func OpenSnapshotStore(cfg config.BadgerConfig) (*SnapshotStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Msg("Snapshot store opened")

	return &SnapshotStore{db: db}, nil
}

// Put persists a full bundle snapshot for userID, replacing any previous
// one. The payload bytes and the metadata record are written in a single
// transaction.
func (s *SnapshotStore) Put(ctx context.Context, userID string, version int, payload []byte) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if userID == "" {
		return ErrEmptyUserID
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := json.Marshal(SnapshotMeta{
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot meta: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixSnapshot+userID), payload); err != nil {
			return fmt.Errorf("set snapshot: %w", err)
		}
		if err := txn.Set([]byte(prefixSnapmeta+userID), meta); err != nil {
			return fmt.Errorf("set snapshot meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write snapshot for %s: %w", userID, err)
	}

	return nil
}

// Get returns the latest bundle payload and its metadata for userID.
// A payload written before metadata existed is returned with zero meta.
func (s *SnapshotStore) Get(ctx context.Context, userID string) ([]byte, SnapshotMeta, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, SnapshotMeta{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	if userID == "" {
		return nil, SnapshotMeta{}, ErrEmptyUserID
	}
	if err := ctx.Err(); err != nil {
		return nil, SnapshotMeta{}, err
	}

	var (
		payload []byte
		meta    SnapshotMeta
	)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSnapshot + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}

		payload, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy snapshot: %w", err)
		}

		mi, err := txn.Get([]byte(prefixSnapmeta + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get snapshot meta: %w", err)
		}

		return mi.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &meta); err != nil {
				return fmt.Errorf("unmarshal snapshot meta: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return nil, SnapshotMeta{}, ErrNoSnapshot
		}
		return nil, SnapshotMeta{}, fmt.Errorf("read snapshot for %s: %w", userID, err)
	}

	return payload, meta, nil
}

// Delete removes the snapshot and its metadata for userID. Deleting a user
// that has no snapshot is not an error.
func (s *SnapshotStore) Delete(ctx context.Context, userID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if userID == "" {
		return ErrEmptyUserID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixSnapshot + userID)); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
		if err := txn.Delete([]byte(prefixSnapmeta + userID)); err != nil {
			return fmt.Errorf("delete snapshot meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", userID, err)
	}

	return nil
}

// Count returns the number of users with a persisted snapshot.
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.mu.RUnlock()

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSnapshot)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}

	return n, nil
}

// Close flushes and closes the underlying Badger database.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	return nil
}
