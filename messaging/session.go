// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tablerelay/tablerelay/lib/ref"
	"github.com/tablerelay/tablerelay/lib/secret"
)

// Session is an authenticated Matrix session. It wraps a Client with
// an access token for making authenticated API calls. Sessions are
// lightweight and safe to create in large numbers; the bridge creates
// a fresh one whenever the configured access token changes.
//
// The access token is stored in a secret.Buffer (mmap-backed, locked
// against swap, excluded from core dumps). The caller must call Close
// when the Session is no longer needed.
type Session struct {
	client      *Client
	accessToken *secret.Buffer

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64
}

// Close releases the access token memory (zeros, unlocks, unmaps).
// Idempotent — safe to call multiple times.
func (s *Session) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// request performs an authenticated request with the auth-scheme
// fallback: the first attempt carries the token in a Bearer
// Authorization header; if the server answers 401, the identical
// request (same method, path, query, and body — including any
// transaction ID embedded in the path) is retried once with the token
// in the access_token query parameter. If both attempts are rejected
// as unauthorized, the call fails with *AuthRetryExhaustedError.
// Non-auth errors never trigger the fallback.
func (s *Session) request(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	responseBody, err := s.client.doRequest(ctx, method, path, s.accessToken, requestBody, query)
	if err == nil || !isAuthFailure(err) {
		return responseBody, err
	}
	headerErr := err

	s.client.logger.Debug("header auth rejected, retrying with query-parameter token",
		"method", method, "path", path)

	fallbackQuery := url.Values{}
	for key, values := range query {
		fallbackQuery[key] = values
	}
	fallbackQuery.Set("access_token", s.accessToken.String())

	responseBody, err = s.client.doRequest(ctx, method, path, nil, requestBody, fallbackQuery)
	if err == nil {
		return responseBody, nil
	}
	if isAuthFailure(err) {
		return nil, &AuthRetryExhaustedError{HeaderErr: headerErr, QueryErr: err}
	}
	return nil, err
}

// WhoAmI validates the access token and returns the user ID. Useful
// for checking whether a configured token is still valid at startup.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.request(ctx, http.MethodGet, s.client.endpoint("account/whoami"), nil, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// SearchUsers queries the homeserver's user directory for the given
// term. The search walks the API version ladder — the configured
// version, then "v3", then "r0" — stopping at the first version that
// answers successfully. If every version fails, the search reports
// zero results and no error: an unreachable directory means "nobody
// found", and the caller's not-found handling takes over.
func (s *Session) SearchUsers(ctx context.Context, searchTerm string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	requestBody := UserSearchRequest{SearchTerm: searchTerm, Limit: limit}

	var lastErr error
	for _, version := range searchVersions(s.client.apiVersion) {
		path := versionedEndpoint(version, "user_directory/search")
		body, err := s.request(ctx, http.MethodPost, path, requestBody, nil)
		if err != nil {
			lastErr = err
			s.client.logger.Debug("user directory search failed",
				"api_version", version, "error", err)
			continue
		}

		var response UserSearchResponse
		if err := json.Unmarshal(body, &response); err != nil {
			lastErr = fmt.Errorf("messaging: failed to parse search response: %w", err)
			continue
		}
		return response.Results, nil
	}

	s.client.logger.Warn("user directory search exhausted all API versions",
		"search_term", searchTerm, "last_error", lastErr)
	return nil, nil
}

// searchVersions returns the version ladder for directory search:
// the configured version followed by the fixed fallbacks, with
// duplicates removed while preserving order.
func searchVersions(configured string) []string {
	versions := []string{configured}
	for _, fallback := range searchFallbackVersions {
		if fallback != configured {
			versions = append(versions, fallback)
		}
	}
	return versions
}

// CreateRoom creates a new Matrix room.
func (s *Session) CreateRoom(ctx context.Context, request CreateRoomRequest) (ref.RoomID, error) {
	body, err := s.request(ctx, http.MethodPost, s.client.endpoint("createRoom"), request, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: create room failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}

	s.client.logger.Info("created matrix room",
		"room_id", response.RoomID,
		"name", request.Name,
		"direct", request.IsDirect,
	)
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the session's user has
// joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.request(ctx, http.MethodGet, s.client.endpoint("joined_rooms"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// RoomState fetches all current state events from a room. The bridge
// uses this to inspect m.room.member events when looking for an
// existing direct room.
func (s *Session) RoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	body, err := s.request(ctx, http.MethodGet, s.client.roomPath(roomID, "state"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %q failed: %w", roomID, err)
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room state response: %w", err)
	}
	return events, nil
}

// InviteUser invites a user to a room the session's user has invite
// power in.
func (s *Session) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	request := map[string]string{"user_id": userID.String()}
	if _, err := s.request(ctx, http.MethodPost, s.client.roomPath(roomID, "invite"), request, nil); err != nil {
		return fmt.Errorf("messaging: invite %q to %q failed: %w", userID, roomID, err)
	}
	return nil
}

// SendNotification sends an m.room.message event to a room. The send
// is an idempotent PUT with a transaction ID in the path; both auth
// attempts of the underlying request reuse the same transaction ID, so
// the auth fallback cannot double-deliver. Returns the event ID.
func (s *Session) SendNotification(ctx context.Context, roomID ref.RoomID, content NotificationContent) (ref.EventID, error) {
	transactionID := s.nextTransactionID()
	path := s.client.roomPath(roomID, "send/m.room.message/"+url.PathEscape(transactionID))

	body, err := s.request(ctx, http.MethodPut, path, content, nil)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "tablerelay-<timestamp_ms>-<counter>" to
// ensure uniqueness across restarts.
func (s *Session) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("tablerelay-%d-%d", time.Now().UnixMilli(), counter)
}
