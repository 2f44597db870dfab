// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package gridfile feeds the pipeline from a JSON rows file.
//
// The file holds an array of row objects; the "id" key becomes the
// row identifier and every other key a field. The watcher delivers a
// fresh snapshot on every content change, debounced so editors that
// write in several steps produce one snapshot, not several partial
// ones.
package gridfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tablerelay/tablerelay/grid"
)

// DefaultDebounce is the delay between a file event and the reload.
const DefaultDebounce = 250 * time.Millisecond

// Handler receives each new snapshot. Errors are logged by the
// source; they do not stop the watch.
type Handler func(ctx context.Context, rows grid.Snapshot, mapping grid.FieldMapping) error

// Source watches one JSON rows file.
type Source struct {
	path     string
	mapping  grid.FieldMapping
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	lastData []byte
}

// NewSource returns a Source watching path. mapping may be nil.
func NewSource(path string, mapping grid.FieldMapping, handler Handler, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		path:     path,
		mapping:  mapping,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// Run loads the file once, then watches it until the context is
// cancelled. The watch is on the containing directory, so atomic
// replace (write temp file, rename over) is seen as a change.
func (s *Source) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gridfile: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("gridfile: watching %s: %w", filepath.Dir(s.path), err)
	}

	s.load(ctx)

	base := filepath.Base(s.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("gridfile: watcher closed")
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("gridfile: watcher closed")
			}
			s.logger.Warn("file watch error", "path", s.path, "error", err)

		case <-pending:
			pending = nil
			s.load(ctx)
		}
	}
}

// load reads and parses the file and hands the snapshot off. Unchanged
// content is skipped; read and parse failures are logged and leave the
// previous snapshot in effect.
func (s *Source) load(ctx context.Context) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("reading rows file failed", "path", s.path, "error", err)
		return
	}
	if bytes.Equal(data, s.lastData) {
		return
	}

	rows, err := ParseRows(data)
	if err != nil {
		s.logger.Warn("parsing rows file failed", "path", s.path, "error", err)
		return
	}
	s.lastData = data

	s.logger.Debug("rows file loaded", "path", s.path, "rows", len(rows))
	if err := s.handler(ctx, rows, s.mapping); err != nil {
		s.logger.Error("handling snapshot failed", "path", s.path, "error", err)
	}
}

// ParseRows decodes a JSON array of row objects into a snapshot. Each
// object's "id" key (string or number) is the row identifier; rows
// without one are skipped.
func ParseRows(data []byte) (grid.Snapshot, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("gridfile: decoding rows: %w", err)
	}

	rows := make(grid.Snapshot, 0, len(raw))
	for _, object := range raw {
		id, ok := grid.Row{Fields: object}.String("id")
		if !ok {
			continue
		}
		fields := make(map[string]any, len(object)-1)
		for key, value := range object {
			if key == "id" {
				continue
			}
			fields[key] = value
		}
		rows = append(rows, grid.Row{ID: id, Fields: fields})
	}
	return rows, nil
}
