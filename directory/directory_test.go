// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/tablerelay/tablerelay/lib/ref"
	"github.com/tablerelay/tablerelay/messaging"
)

// fakeMessenger scripts the Matrix calls the directory makes and
// counts them, so tests can assert that cached resolutions stay off
// the network.
type fakeMessenger struct {
	searchCalls int
	joinedCalls int
	stateCalls  int
	createCalls int

	search func(searchTerm string, limit int) ([]messaging.User, error)
	joined func() ([]ref.RoomID, error)
	state  func(roomID ref.RoomID) ([]messaging.Event, error)
	create func(request messaging.CreateRoomRequest) (ref.RoomID, error)
}

func (f *fakeMessenger) SearchUsers(_ context.Context, searchTerm string, limit int) ([]messaging.User, error) {
	f.searchCalls++
	if f.search == nil {
		return nil, nil
	}
	return f.search(searchTerm, limit)
}

func (f *fakeMessenger) JoinedRooms(context.Context) ([]ref.RoomID, error) {
	f.joinedCalls++
	if f.joined == nil {
		return nil, nil
	}
	return f.joined()
}

func (f *fakeMessenger) RoomState(_ context.Context, roomID ref.RoomID) ([]messaging.Event, error) {
	f.stateCalls++
	if f.state == nil {
		return nil, nil
	}
	return f.state(roomID)
}

func (f *fakeMessenger) CreateRoom(_ context.Context, request messaging.CreateRoomRequest) (ref.RoomID, error) {
	f.createCalls++
	if f.create == nil {
		return ref.MustParseRoomID("!created:example.org"), nil
	}
	return f.create(request)
}

func (f *fakeMessenger) networkCalls() int {
	return f.searchCalls + f.joinedCalls + f.stateCalls + f.createCalls
}

func searchResult(userIDs ...string) func(string, int) ([]messaging.User, error) {
	return func(string, int) ([]messaging.User, error) {
		var users []messaging.User
		for _, id := range userIDs {
			users = append(users, messaging.User{UserID: ref.MustParseUserID(id)})
		}
		return users, nil
	}
}

func memberEvent(userID, membership string) messaging.Event {
	stateKey := userID
	return messaging.Event{
		Type:     "m.room.member",
		StateKey: &stateKey,
		Content:  map[string]any{"membership": membership},
	}
}

func TestResolveIndividual(t *testing.T) {
	ctx := context.Background()

	t.Run("search then create, second resolution is pure cache", func(t *testing.T) {
		messenger := &fakeMessenger{search: searchResult("@alice:example.org")}
		d := NewDirectory(messenger, nil, "Notification: ", nil)
		alice := &Individual{DisplayName: "Alice"}

		roomID, err := d.ResolveIndividual(ctx, alice)
		if err != nil {
			t.Fatalf("ResolveIndividual failed: %v", err)
		}
		if roomID.String() != "!created:example.org" {
			t.Errorf("roomID = %q", roomID)
		}
		if alice.UserID.String() != "@alice:example.org" {
			t.Errorf("cached UserID = %q", alice.UserID)
		}
		if alice.RoomID != roomID {
			t.Errorf("cached RoomID = %q", alice.RoomID)
		}

		before := messenger.networkCalls()
		again, err := d.ResolveIndividual(ctx, alice)
		if err != nil {
			t.Fatalf("second ResolveIndividual failed: %v", err)
		}
		if again != roomID {
			t.Errorf("second resolution room = %q, want %q", again, roomID)
		}
		if messenger.networkCalls() != before {
			t.Errorf("second resolution made %d network calls", messenger.networkCalls()-before)
		}
	})

	t.Run("existing direct room is reused", func(t *testing.T) {
		direct := ref.MustParseRoomID("!direct:example.org")
		messenger := &fakeMessenger{
			search: searchResult("@alice:example.org"),
			joined: func() ([]ref.RoomID, error) {
				return []ref.RoomID{ref.MustParseRoomID("!big:example.org"), direct}, nil
			},
			state: func(roomID ref.RoomID) ([]messaging.Event, error) {
				if roomID == direct {
					return []messaging.Event{
						memberEvent("@me:example.org", "join"),
						memberEvent("@alice:example.org", "invite"),
					}, nil
				}
				return []messaging.Event{
					memberEvent("@me:example.org", "join"),
					memberEvent("@alice:example.org", "join"),
					memberEvent("@carol:example.org", "join"),
				}, nil
			},
		}
		d := NewDirectory(messenger, nil, "", nil)

		roomID, err := d.ResolveIndividual(ctx, &Individual{DisplayName: "Alice"})
		if err != nil {
			t.Fatalf("ResolveIndividual failed: %v", err)
		}
		if roomID != direct {
			t.Errorf("roomID = %q, want the existing direct room", roomID)
		}
		if messenger.createCalls != 0 {
			t.Errorf("created %d rooms despite existing direct room", messenger.createCalls)
		}
	})

	t.Run("empty search is RecipientNotFound", func(t *testing.T) {
		messenger := &fakeMessenger{}
		d := NewDirectory(messenger, nil, "", nil)

		_, err := d.ResolveIndividual(ctx, &Individual{DisplayName: "Nobody"})
		var notFound *RecipientNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("error = %v, want RecipientNotFoundError", err)
		}
		if notFound.DisplayName != "Nobody" {
			t.Errorf("DisplayName = %q", notFound.DisplayName)
		}
	})

	t.Run("create failure is RoomCreationFailed", func(t *testing.T) {
		messenger := &fakeMessenger{
			search: searchResult("@alice:example.org"),
			create: func(messaging.CreateRoomRequest) (ref.RoomID, error) {
				return ref.RoomID{}, errors.New("boom")
			},
		}
		d := NewDirectory(messenger, nil, "", nil)

		_, err := d.ResolveIndividual(ctx, &Individual{DisplayName: "Alice"})
		var failed *RoomCreationFailedError
		if !errors.As(err, &failed) {
			t.Fatalf("error = %v, want RoomCreationFailedError", err)
		}
	})

	t.Run("shared cache across recipient objects", func(t *testing.T) {
		cache := NewRoomCache(nil)
		cache.Insert(ctx, "@alice:example.org", ref.MustParseRoomID("!cached:example.org"))
		messenger := &fakeMessenger{}
		d := NewDirectory(messenger, cache, "", nil)

		alice := &Individual{
			DisplayName: "Alice",
			UserID:      ref.MustParseUserID("@alice:example.org"),
		}
		roomID, err := d.ResolveIndividual(ctx, alice)
		if err != nil {
			t.Fatalf("ResolveIndividual failed: %v", err)
		}
		if roomID.String() != "!cached:example.org" {
			t.Errorf("roomID = %q", roomID)
		}
		if messenger.networkCalls() != 0 {
			t.Errorf("cache hit made %d network calls", messenger.networkCalls())
		}
	})

	t.Run("direct room request shape", func(t *testing.T) {
		var got messaging.CreateRoomRequest
		messenger := &fakeMessenger{
			search: searchResult("@alice:example.org"),
			create: func(request messaging.CreateRoomRequest) (ref.RoomID, error) {
				got = request
				return ref.MustParseRoomID("!r:example.org"), nil
			},
		}
		d := NewDirectory(messenger, nil, "Notification: ", nil)

		if _, err := d.ResolveIndividual(ctx, &Individual{DisplayName: "Alice"}); err != nil {
			t.Fatalf("ResolveIndividual failed: %v", err)
		}
		if got.Preset != "trusted_private_chat" || !got.IsDirect {
			t.Errorf("request = %+v", got)
		}
		if got.Name != "Notification: Alice" {
			t.Errorf("name = %q", got.Name)
		}
		if len(got.Invite) != 1 || got.Invite[0].String() != "@alice:example.org" {
			t.Errorf("invite = %v", got.Invite)
		}
	})
}

func TestResolveGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("unresolvable members skipped", func(t *testing.T) {
		var got messaging.CreateRoomRequest
		messenger := &fakeMessenger{
			search: func(searchTerm string, _ int) ([]messaging.User, error) {
				if searchTerm == "Ghost" {
					return nil, nil
				}
				return searchResult("@" + searchTerm + ":example.org")(searchTerm, 0)
			},
			create: func(request messaging.CreateRoomRequest) (ref.RoomID, error) {
				got = request
				return ref.MustParseRoomID("!group:example.org"), nil
			},
		}
		d := NewDirectory(messenger, nil, "", nil)

		group := &Group{
			Name:  "oncall",
			Topic: "row alerts",
			Members: []*Individual{
				{DisplayName: "alice"},
				{DisplayName: "Ghost"},
				{DisplayName: "bob"},
			},
		}
		roomID, err := d.ResolveGroup(ctx, group)
		if err != nil {
			t.Fatalf("ResolveGroup failed: %v", err)
		}
		if group.RoomID != roomID {
			t.Errorf("group RoomID = %q, want %q", group.RoomID, roomID)
		}
		if len(got.Invite) != 2 {
			t.Fatalf("invite = %v, want the two resolvable members", got.Invite)
		}
		if got.Preset != "private_chat" || got.IsDirect {
			t.Errorf("request = %+v", got)
		}
		if got.Topic != "row alerts" {
			t.Errorf("topic = %q", got.Topic)
		}
		if len(got.InitialState) != 1 || got.InitialState[0].Type != "m.room.guest_access" {
			t.Errorf("initial state = %+v", got.InitialState)
		}
	})

	t.Run("no resolvable member is RecipientNotFound", func(t *testing.T) {
		messenger := &fakeMessenger{}
		d := NewDirectory(messenger, nil, "", nil)

		group := &Group{Name: "empty", Members: []*Individual{{DisplayName: "Ghost"}}}
		_, err := d.ResolveGroup(ctx, group)
		var notFound *RecipientNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("error = %v, want RecipientNotFoundError", err)
		}
		if notFound.DisplayName != "empty" {
			t.Errorf("DisplayName = %q", notFound.DisplayName)
		}
		if messenger.createCalls != 0 {
			t.Errorf("created a room for an empty group")
		}
	})

	t.Run("second resolution is pure cache", func(t *testing.T) {
		messenger := &fakeMessenger{search: searchResult("@alice:example.org")}
		d := NewDirectory(messenger, nil, "", nil)

		group := &Group{Name: "oncall", Members: []*Individual{{DisplayName: "Alice"}}}
		first, err := d.ResolveGroup(ctx, group)
		if err != nil {
			t.Fatalf("ResolveGroup failed: %v", err)
		}

		before := messenger.networkCalls()
		second, err := d.ResolveGroup(ctx, group)
		if err != nil {
			t.Fatalf("second ResolveGroup failed: %v", err)
		}
		if second != first {
			t.Errorf("rooms differ: %q vs %q", first, second)
		}
		if messenger.networkCalls() != before {
			t.Errorf("second resolution made network calls")
		}
	})
}
