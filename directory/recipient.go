// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"github.com/tablerelay/tablerelay/lib/ref"
)

// Individual is one person configured to receive notifications. The
// zero UserID and RoomID mean "not resolved yet"; resolution fills
// them in place so later deliveries skip the network entirely.
type Individual struct {
	// DisplayName is the directory search term: a display name or a
	// contact handle the homeserver's user directory can match.
	DisplayName string
	// UserID is the resolved Matrix user, once known.
	UserID ref.UserID
	// RoomID is the direct room with that user, once known.
	RoomID ref.RoomID
}

// Group is a named set of individuals that share one notification
// room. Members that cannot be resolved are skipped at room-creation
// time; the group fails only when no member resolves.
type Group struct {
	Name    string
	Topic   string
	Members []*Individual
	// RoomID is the group's room, once created.
	RoomID ref.RoomID
}
