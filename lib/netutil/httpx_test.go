// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("ReadResponse = %q", data)
	}
}

func TestDecodeResponse(t *testing.T) {
	var decoded struct {
		RoomID string `json:"room_id"`
	}
	if err := DecodeResponse(strings.NewReader(`{"room_id":"!r:s"}`), &decoded); err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if decoded.RoomID != "!r:s" {
		t.Errorf("RoomID = %q", decoded.RoomID)
	}

	if err := DecodeResponse(strings.NewReader("not json"), &decoded); err == nil {
		t.Error("DecodeResponse of invalid JSON succeeded, want error")
	}
}
