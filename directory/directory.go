// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"log/slog"

	"github.com/tablerelay/tablerelay/lib/ref"
	"github.com/tablerelay/tablerelay/messaging"
)

// defaultSearchLimit bounds user directory searches; only the first
// result is used, the rest exist for logging.
const defaultSearchLimit = 10

// Messenger is the slice of the Matrix session the directory needs.
// *messaging.Session satisfies it.
type Messenger interface {
	SearchUsers(ctx context.Context, searchTerm string, limit int) ([]messaging.User, error)
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)
	RoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error)
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (ref.RoomID, error)
}

// Directory resolves individuals and groups to room IDs.
type Directory struct {
	messenger      Messenger
	cache          *RoomCache
	roomNamePrefix string
	logger         *slog.Logger
}

// NewDirectory returns a Directory that resolves through messenger
// and remembers rooms in cache. roomNamePrefix is prepended to the
// names of rooms the directory creates.
func NewDirectory(messenger Messenger, cache *RoomCache, roomNamePrefix string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewRoomCache(logger)
	}
	return &Directory{
		messenger:      messenger,
		cache:          cache,
		roomNamePrefix: roomNamePrefix,
		logger:         logger,
	}
}

// SetMessenger swaps the underlying Matrix session. Cached
// resolutions stay valid; only future network calls use the new
// session.
func (d *Directory) SetMessenger(messenger Messenger) {
	d.messenger = messenger
}

// ResolveIndividual returns the direct room for a person, resolving
// and caching as needed. Resolution proceeds user directory search →
// existing direct room → room creation, short-circuiting at the first
// step already answered by the recipient's own fields or the shared
// cache.
func (d *Directory) ResolveIndividual(ctx context.Context, individual *Individual) (ref.RoomID, error) {
	if !individual.RoomID.IsZero() {
		return individual.RoomID, nil
	}

	if err := d.resolveUserID(ctx, individual); err != nil {
		return ref.RoomID{}, err
	}

	cacheKey := individual.UserID.String()
	if roomID, ok := d.cache.Lookup(cacheKey); ok {
		individual.RoomID = roomID
		return roomID, nil
	}

	roomID, found, err := d.findDirectRoom(ctx, individual.UserID)
	if err != nil {
		d.logger.Warn("direct room lookup failed, creating a new room",
			"user_id", individual.UserID, "error", err)
	}
	if !found {
		name := d.roomNamePrefix + individual.DisplayName
		roomID, err = d.messenger.CreateRoom(ctx, messaging.CreateRoomRequest{
			Name:     name,
			Preset:   "trusted_private_chat",
			IsDirect: true,
			Invite:   []ref.UserID{individual.UserID},
		})
		if err != nil {
			return ref.RoomID{}, &RoomCreationFailedError{Name: name, Err: err}
		}
	}

	individual.RoomID = roomID
	d.cache.Insert(ctx, cacheKey, roomID)
	return roomID, nil
}

// ResolveGroup returns the room for a group, creating it on first
// resolution. Members that fail to resolve are skipped; the group
// fails only when no member resolves at all.
func (d *Directory) ResolveGroup(ctx context.Context, group *Group) (ref.RoomID, error) {
	if !group.RoomID.IsZero() {
		return group.RoomID, nil
	}

	cacheKey := "group/" + group.Name
	if roomID, ok := d.cache.Lookup(cacheKey); ok {
		group.RoomID = roomID
		return roomID, nil
	}

	var invite []ref.UserID
	for _, member := range group.Members {
		if err := d.resolveUserID(ctx, member); err != nil {
			d.logger.Warn("skipping unresolvable group member",
				"group", group.Name, "member", member.DisplayName, "error", err)
			continue
		}
		invite = append(invite, member.UserID)
	}
	if len(invite) == 0 {
		return ref.RoomID{}, &RecipientNotFoundError{DisplayName: group.Name}
	}

	name := d.roomNamePrefix + group.Name
	roomID, err := d.messenger.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:   name,
		Topic:  group.Topic,
		Preset: "private_chat",
		Invite: invite,
		InitialState: []messaging.StateEvent{
			{
				Type:    "m.room.guest_access",
				Content: map[string]any{"guest_access": "forbidden"},
			},
		},
	})
	if err != nil {
		return ref.RoomID{}, &RoomCreationFailedError{Name: name, Err: err}
	}

	group.RoomID = roomID
	d.cache.Insert(ctx, cacheKey, roomID)
	d.logger.Info("created group room",
		"group", group.Name, "room_id", roomID, "members", len(invite))
	return roomID, nil
}

// resolveUserID fills in the recipient's user ID from the homeserver
// directory if it is not already known. The first search result wins;
// zero results is *RecipientNotFoundError.
func (d *Directory) resolveUserID(ctx context.Context, individual *Individual) error {
	if !individual.UserID.IsZero() {
		return nil
	}

	results, err := d.messenger.SearchUsers(ctx, individual.DisplayName, defaultSearchLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return &RecipientNotFoundError{DisplayName: individual.DisplayName}
	}
	if len(results) > 1 {
		d.logger.Debug("ambiguous directory search, using first result",
			"search_term", individual.DisplayName,
			"results", len(results),
			"chosen", results[0].UserID)
	}

	individual.UserID = results[0].UserID
	return nil
}

// findDirectRoom looks for an existing two-party room with the given
// user among the session's joined rooms. A room counts as direct when
// its joined or invited members are exactly the session user and the
// target.
func (d *Directory) findDirectRoom(ctx context.Context, userID ref.UserID) (ref.RoomID, bool, error) {
	rooms, err := d.messenger.JoinedRooms(ctx)
	if err != nil {
		return ref.RoomID{}, false, err
	}

	for _, roomID := range rooms {
		events, err := d.messenger.RoomState(ctx, roomID)
		if err != nil {
			d.logger.Debug("skipping room with unreadable state",
				"room_id", roomID, "error", err)
			continue
		}

		members := 0
		hasTarget := false
		for _, event := range events {
			if event.Type != "m.room.member" || event.StateKey == nil {
				continue
			}
			membership, _ := event.Content["membership"].(string)
			if membership != "join" && membership != "invite" {
				continue
			}
			members++
			if *event.StateKey == userID.String() {
				hasTarget = true
			}
		}
		if hasTarget && members == 2 {
			d.logger.Debug("reusing existing direct room",
				"user_id", userID, "room_id", roomID)
			return roomID, true, nil
		}
	}
	return ref.RoomID{}, false, nil
}
