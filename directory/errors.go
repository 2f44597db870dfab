// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import "fmt"

// RecipientNotFoundError reports that the user directory returned no
// results for a recipient, or that no member of a group resolved.
type RecipientNotFoundError struct {
	// DisplayName is the search term or group name that failed.
	DisplayName string
}

func (e *RecipientNotFoundError) Error() string {
	return fmt.Sprintf("directory: recipient %q not found", e.DisplayName)
}

// RoomCreationFailedError reports that creating a room for a resolved
// recipient failed after both auth attempts.
type RoomCreationFailedError struct {
	// Name is the room name that could not be created.
	Name string
	Err  error
}

func (e *RoomCreationFailedError) Error() string {
	return fmt.Sprintf("directory: creating room %q failed: %v", e.Name, e.Err)
}

func (e *RoomCreationFailedError) Unwrap() error { return e.Err }
