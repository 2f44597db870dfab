// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/tablerelay/tablerelay/lib/ref"
)

// UserSearchRequest is the body of POST .../user_directory/search.
type UserSearchRequest struct {
	SearchTerm string `json:"search_term"`
	Limit      int    `json:"limit"`
}

// UserSearchResponse is returned by the user directory search.
type UserSearchResponse struct {
	Results []User `json:"results"`
	Limited bool   `json:"limited,omitempty"`
}

// User is a single user directory search result.
type User struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name         string       `json:"name,omitempty"`
	Topic        string       `json:"topic,omitempty"`
	Preset       string       `json:"preset,omitempty"` // "private_chat", "trusted_private_chat"
	IsDirect     bool         `json:"is_direct,omitempty"`
	Invite       []ref.UserID `json:"invite,omitempty"`
	InitialState []StateEvent `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent represents a Matrix state event for room creation or
// state inspection.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// Event represents a Matrix event from the server. Only the fields
// the bridge inspects are declared; room-state responses carry more.
type Event struct {
	EventID  ref.EventID    `json:"event_id"`
	Type     ref.EventType  `json:"type"`
	Sender   ref.UserID     `json:"sender"`
	Content  map[string]any `json:"content"`
	StateKey *string        `json:"state_key,omitempty"`
}

// SendEventResponse is returned by SendNotification.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}
