// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package gridfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tablerelay/tablerelay/grid"
)

func TestParseRows(t *testing.T) {
	t.Run("objects with ids", func(t *testing.T) {
		rows, err := ParseRows([]byte(`[
			{"id": "r1", "name": "Alice", "count": 2},
			{"id": 7, "name": "Bob"},
			{"name": "no id, skipped"}
		]`))
		if err != nil {
			t.Fatalf("ParseRows failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("rows = %+v, want 2", rows)
		}
		if rows[0].ID != "r1" || rows[0].Fields["name"] != "Alice" {
			t.Errorf("first row = %+v", rows[0])
		}
		if _, hasID := rows[0].Fields["id"]; hasID {
			t.Error("id leaked into fields")
		}
		if rows[1].ID != "7" {
			t.Errorf("numeric id = %q", rows[1].ID)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := ParseRows([]byte(`{not json`)); err == nil {
			t.Error("ParseRows accepted invalid JSON")
		}
	})

	t.Run("empty array", func(t *testing.T) {
		rows, err := ParseRows([]byte(`[]`))
		if err != nil {
			t.Fatalf("ParseRows failed: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("rows = %+v", rows)
		}
	})
}

func TestSourceWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.json")
	if err := os.WriteFile(path, []byte(`[{"id": "r1", "n": 1}]`), 0o600); err != nil {
		t.Fatalf("writing rows file: %v", err)
	}

	snapshots := make(chan grid.Snapshot, 4)
	handler := func(_ context.Context, rows grid.Snapshot, _ grid.FieldMapping) error {
		snapshots <- rows
		return nil
	}

	source := NewSource(path, nil, handler, nil)
	source.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	waitSnapshot := func(wantRows int) grid.Snapshot {
		t.Helper()
		select {
		case rows := <-snapshots:
			if len(rows) != wantRows {
				t.Fatalf("snapshot = %+v, want %d rows", rows, wantRows)
			}
			return rows
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}

	// Initial load.
	waitSnapshot(1)

	// Appending a row delivers a fresh snapshot.
	if err := os.WriteFile(path, []byte(`[{"id": "r1", "n": 1}, {"id": "r2", "n": 2}]`), 0o600); err != nil {
		t.Fatalf("updating rows file: %v", err)
	}
	rows := waitSnapshot(2)
	if rows[1].ID != "r2" {
		t.Errorf("second row = %+v", rows[1])
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
