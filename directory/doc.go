// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory resolves logical recipients into Matrix rooms.
//
// A recipient starts as a display name, gains a user ID through the
// homeserver's user directory, and finally gains a room ID by reuse
// of an existing direct room or creation of a new one. Both IDs are
// cached in place on the recipient, and room IDs additionally go
// through a shared RoomCache, so resolving the same recipient twice
// performs at most one network sequence.
package directory
