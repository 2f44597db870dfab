// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestSession(t *testing.T, serverURL, apiVersion, token string) *Session {
	t.Helper()
	client, err := NewClient(ClientConfig{HomeserverURL: serverURL, APIVersion: apiVersion})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken(token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
		if client.apiVersion != DefaultAPIVersion {
			t.Errorf("apiVersion = %q, want default %q", client.apiVersion, DefaultAPIVersion)
		}
	})

	t.Run("trailing slash stripped", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client.baseURL != "http://localhost:8008" {
			t.Errorf("baseURL = %q", client.baseURL)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{HomeserverURL: "://invalid"}); err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestWhoAmI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("unexpected path: %s", request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		if got := request.Header.Get("Authorization"); got != "Bearer syt_token" {
			t.Errorf("Authorization = %q", got)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{"user_id": "@bridge:example.org"})
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, "", "syt_token")
	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID.String() != "@bridge:example.org" {
		t.Errorf("userID = %q", userID)
	}
}

func TestMatrixErrorParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusForbidden)
		json.NewEncoder(writer).Encode(map[string]any{
			"errcode": "M_FORBIDDEN",
			"error":   "You are not invited to this room.",
		})
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, "", "syt_token")
	_, err := session.JoinedRooms(context.Background())
	if err == nil {
		t.Fatal("expected error from forbidden response")
	}
	if !IsMatrixError(err, ErrCodeForbidden) {
		t.Errorf("error not recognized as M_FORBIDDEN: %v", err)
	}
}
