// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package grid models rows from the external data grid and detects
// the changes that fire notification triggers.
//
// A Row is a stable identifier plus a field map; a Snapshot is one
// observation of all visible rows. The Detector compares snapshots
// against a baseline of per-row fingerprints (deterministic CBOR, so
// identical field values always produce identical bytes) and emits
// trigger events: new rows by the count heuristic, updated rows by
// fingerprint difference, and conditional updates when a designated
// field transitions into its satisfied value.
package grid
