// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package roomstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tablerelay/tablerelay/lib/ref"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rooms.db")

	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	roomA := ref.MustParseRoomID("!a:example.org")
	roomB := ref.MustParseRoomID("!b:example.org")
	if err := store.Save(ctx, "@alice:example.org", roomA); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, "group/oncall", roomB); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Upsert replaces.
	if err := store.Save(ctx, "@alice:example.org", roomB); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want 2", entries)
	}
	if entries["@alice:example.org"] != roomB {
		t.Errorf("alice entry = %q, want upserted %q", entries["@alice:example.org"], roomB)
	}
	if entries["group/oncall"] != roomB {
		t.Errorf("group entry = %q", entries["group/oncall"])
	}
}

func TestStoreSkipsInvalidRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rooms.db")

	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO rooms(key, room_id, updated_at) VALUES('bad', 'not-a-room', '2026-01-01T00:00:00Z')`,
	); err != nil {
		t.Fatalf("inserting bad row: %v", err)
	}
	if err := store.Save(ctx, "@ok:s", ref.MustParseRoomID("!ok:example.org")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %v, want only the valid row", entries)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("", nil); err == nil {
		t.Error("Open accepted empty path")
	}
}
