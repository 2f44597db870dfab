// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomstore persists the directory's room cache in SQLite,
// so resolved rooms survive bridge restarts and recipients are not
// re-resolved (or rooms re-created) on every start.
package roomstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tablerelay/tablerelay/lib/ref"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	key        TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store is a SQLite-backed room cache store. It satisfies
// directory.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("roomstore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("roomstore: creating directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("roomstore: opening %q: %w", path, err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("roomstore: enabling WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("roomstore: setting synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("roomstore: applying schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns every persisted cache entry. Rows whose room ID no
// longer parses are skipped rather than failing the whole load.
func (s *Store) Load(ctx context.Context) (map[string]ref.RoomID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, room_id FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("roomstore: loading entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]ref.RoomID)
	for rows.Next() {
		var key, rawRoomID string
		if err := rows.Scan(&key, &rawRoomID); err != nil {
			return nil, fmt.Errorf("roomstore: scanning entry: %w", err)
		}
		roomID, err := ref.ParseRoomID(rawRoomID)
		if err != nil {
			s.logger.Warn("skipping room cache entry with invalid room ID",
				"key", key, "room_id", rawRoomID, "error", err)
			continue
		}
		entries[key] = roomID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomstore: reading entries: %w", err)
	}
	return entries, nil
}

// Save upserts one cache entry.
func (s *Store) Save(ctx context.Context, key string, roomID ref.RoomID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms(key, room_id, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET room_id = excluded.room_id, updated_at = excluded.updated_at`,
		key, roomID.String(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("roomstore: saving entry %q: %w", key, err)
	}
	return nil
}
