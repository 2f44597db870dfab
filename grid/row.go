// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package grid

import (
	"fmt"
	"strconv"
)

// Row is one record from the external grid: a stable identifier plus
// a field map. Field values arrive as decoded JSON (strings, numbers,
// bools, nil); the typed accessors below return an ok flag instead of
// probing dynamically at call sites.
type Row struct {
	ID     string
	Fields map[string]any
}

// Field returns the raw value of the named field.
func (r Row) Field(name string) (any, bool) {
	value, ok := r.Fields[name]
	return value, ok
}

// String returns the named field as a string. Non-string scalar
// values (numbers, bools) are formatted; nil and missing fields
// report ok=false.
func (r Row) String(name string) (string, bool) {
	value, ok := r.Fields[name]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprint(v), true
	}
}

// Bool returns the named field as a bool.
func (r Row) Bool(name string) (bool, bool) {
	value, ok := r.Fields[name].(bool)
	return value, ok
}

// Float returns the named field as a float64.
func (r Row) Float(name string) (float64, bool) {
	value, ok := r.Fields[name].(float64)
	return value, ok
}

// Snapshot is the full set of visible rows at one point in time.
// Order matters only to the new-row count heuristic, which treats the
// tail of the snapshot as the newly appended rows.
type Snapshot []Row

// FieldMapping renames raw grid column names to the field names used
// in templates and conditions. Columns absent from the mapping keep
// their raw name.
type FieldMapping map[string]string

// Apply returns a copy of the snapshot with field names remapped.
// A nil or empty mapping returns the snapshot unchanged.
func (m FieldMapping) Apply(rows Snapshot) Snapshot {
	if len(m) == 0 {
		return rows
	}
	mapped := make(Snapshot, len(rows))
	for i, row := range rows {
		fields := make(map[string]any, len(row.Fields))
		for name, value := range row.Fields {
			if renamed, ok := m[name]; ok {
				name = renamed
			}
			fields[name] = value
		}
		mapped[i] = Row{ID: row.ID, Fields: fields}
	}
	return mapped
}
