// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package grid

import (
	"fmt"
	"log/slog"
)

// TriggerKind identifies why a notification fired.
type TriggerKind string

const (
	// TriggerNewRow fires for rows appended since the last snapshot.
	TriggerNewRow TriggerKind = "new-row"
	// TriggerUpdated fires for rows whose fields changed.
	TriggerUpdated TriggerKind = "update"
	// TriggerConditional fires when the condition field enters its
	// satisfied value.
	TriggerConditional TriggerKind = "conditional-update"
	// TriggerManual marks sends requested explicitly, outside
	// detection.
	TriggerManual TriggerKind = "manual"
)

// ParseTriggerKind validates a trigger kind from configuration.
func ParseTriggerKind(raw string) (TriggerKind, error) {
	switch kind := TriggerKind(raw); kind {
	case TriggerNewRow, TriggerUpdated, TriggerConditional, TriggerManual:
		return kind, nil
	default:
		return "", fmt.Errorf("grid: unknown trigger kind %q", raw)
	}
}

// Condition designates the field watched by conditional-update
// detection and the value that counts as satisfied. Values are
// compared as strings after formatting, so a numeric grid column can
// be matched against its decimal form.
type Condition struct {
	Field string
	Value string
}

// Satisfied reports whether the condition holds for the given field
// map. Missing and nil fields are never satisfied.
func (c Condition) Satisfied(fields map[string]any) bool {
	value, ok := Row{Fields: fields}.String(c.Field)
	return ok && value == c.Value
}

// Event is one detected trigger: the row that fired and why.
type Event struct {
	Row  Row
	Kind TriggerKind
}

// Detector holds the comparison state between snapshots: the previous
// row count for the new-row heuristic and the fingerprint baseline
// for update detection. One Detector serves one pipeline instance;
// it is not safe for concurrent use.
type Detector struct {
	condition Condition
	logger    *slog.Logger

	previousCount int
	baseline      Baseline
}

// NewDetector returns a Detector with an empty baseline. The
// condition is only consulted in conditional-update mode.
func NewDetector(condition Condition, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		condition: condition,
		logger:    logger,
		baseline:  Baseline{},
	}
}

// Seed replaces the comparison state from a snapshot without emitting
// events. The pipeline calls this for the first snapshot after
// startup, so pre-existing rows are not announced as new.
func (d *Detector) Seed(rows Snapshot) {
	d.rebaseline(rows)
}

// Detect compares a snapshot against the stored state and returns the
// trigger events for the given mode. The state (count and baseline)
// is always replaced from the current snapshot, whatever the mode and
// whether or not events fired. An empty snapshot clears the baseline
// and emits nothing. Rows that cannot be fingerprinted are skipped
// individually; they never suppress events for other rows.
func (d *Detector) Detect(mode TriggerKind, rows Snapshot) []Event {
	previousCount, previous, fingerprints := d.rebaseline(rows)
	if len(rows) == 0 {
		return nil
	}

	var events []Event
	switch mode {
	case TriggerNewRow:
		excess := len(rows) - previousCount
		if excess <= 0 {
			return nil
		}
		for _, row := range rows[len(rows)-excess:] {
			events = append(events, Event{Row: row, Kind: TriggerNewRow})
		}

	case TriggerUpdated:
		for i, row := range rows {
			previousFingerprint, seen := previous[row.ID]
			if !seen || fingerprints[i] == nil {
				continue
			}
			if !fingerprints[i].Equal(previousFingerprint) {
				events = append(events, Event{Row: row, Kind: TriggerUpdated})
			}
		}

	case TriggerConditional:
		for _, row := range rows {
			previousFingerprint, seen := previous[row.ID]
			if !seen {
				continue
			}
			previousFields, err := previousFingerprint.Fields()
			if err != nil {
				d.logger.Warn("skipping row with undecodable baseline fingerprint",
					"row_id", row.ID, "error", err)
				continue
			}
			if !d.condition.Satisfied(previousFields) && d.condition.Satisfied(row.Fields) {
				events = append(events, Event{Row: row, Kind: TriggerConditional})
			}
		}
	}
	return events
}

// rebaseline fingerprints the snapshot, swaps it in as the new
// comparison state, and returns the previous state plus the per-row
// fingerprints (nil where fingerprinting failed). Duplicate row IDs
// keep the last occurrence in the baseline.
func (d *Detector) rebaseline(rows Snapshot) (int, Baseline, []Fingerprint) {
	previousCount := d.previousCount
	previous := d.baseline

	next := make(Baseline, len(rows))
	fingerprints := make([]Fingerprint, len(rows))
	for i, row := range rows {
		fingerprint, err := FingerprintRow(row)
		if err != nil {
			d.logger.Warn("skipping unfingerprintable row", "row_id", row.ID, "error", err)
			continue
		}
		fingerprints[i] = fingerprint
		next[row.ID] = fingerprint
	}

	d.previousCount = len(rows)
	d.baseline = next
	return previousCount, previous, fingerprints
}
