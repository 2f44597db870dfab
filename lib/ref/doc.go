// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: user IDs, room IDs, event IDs, and event types.
//
// Identifiers arrive from two boundaries — the homeserver's JSON
// responses and the bridge configuration — and are validated exactly
// once, at parse time. Past the boundary the rest of the code handles
// opaque value types and never re-checks sigils or server suffixes.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Once constructed, a ref is immutable. The zero value of
// each type is "unset"; use IsZero to check. JSON marshaling uses the
// canonical Matrix string form via encoding.TextMarshaler.
package ref
