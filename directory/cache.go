// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tablerelay/tablerelay/lib/ref"
)

// Store is an optional persistent backing for the RoomCache. Entries
// are loaded once at startup and written through on every insert.
type Store interface {
	// Load returns all persisted cache entries.
	Load(ctx context.Context) (map[string]ref.RoomID, error)
	// Save persists one entry.
	Save(ctx context.Context, key string, roomID ref.RoomID) error
}

// RoomCache maps resolution keys (user IDs for direct rooms, group
// names for group rooms) to room IDs. Entries are only ever added,
// never evicted. Safe for concurrent use.
type RoomCache struct {
	mu     sync.Mutex
	rooms  map[string]ref.RoomID
	store  Store
	logger *slog.Logger
}

// NewRoomCache returns an empty in-memory cache.
func NewRoomCache(logger *slog.Logger) *RoomCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomCache{
		rooms:  make(map[string]ref.RoomID),
		logger: logger,
	}
}

// NewPersistentRoomCache returns a cache backed by store, seeded with
// the store's existing entries.
func NewPersistentRoomCache(ctx context.Context, store Store, logger *slog.Logger) (*RoomCache, error) {
	cache := NewRoomCache(logger)
	cache.store = store

	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: loading room cache: %w", err)
	}
	for key, roomID := range entries {
		cache.rooms[key] = roomID
	}
	cache.logger.Debug("room cache loaded", "entries", len(entries))
	return cache, nil
}

// Lookup returns the cached room for a resolution key.
func (c *RoomCache) Lookup(key string) (ref.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	roomID, ok := c.rooms[key]
	return roomID, ok
}

// Insert records a resolved room. A failure to persist the entry is
// logged but does not fail the insert; the in-memory entry still
// serves the current process.
func (c *RoomCache) Insert(ctx context.Context, key string, roomID ref.RoomID) {
	c.mu.Lock()
	c.rooms[key] = roomID
	store := c.store
	c.mu.Unlock()

	if store != nil {
		if err := store.Save(ctx, key, roomID); err != nil {
			c.logger.Warn("persisting room cache entry failed",
				"key", key, "room_id", roomID, "error", err)
		}
	}
}

// Len returns the number of cached entries.
func (c *RoomCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}
