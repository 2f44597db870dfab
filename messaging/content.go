// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
)

// NotificationContent is the content body of the m.room.message events
// the bridge sends. Every message carries a plain-text body plus an
// org.matrix.custom.html formatted body, and a metadata block that
// records why the message was sent (trigger kind, timestamp, source
// row identifier) for downstream consumers.
type NotificationContent struct {
	MsgType       string                `json:"msgtype"`
	Body          string                `json:"body"`
	Format        string                `json:"format,omitempty"`
	FormattedBody string                `json:"formatted_body,omitempty"`
	Metadata      *NotificationMetadata `json:"metadata,omitempty"`
}

// NotificationMetadata describes the trigger that produced a message.
type NotificationMetadata struct {
	// TriggerKind is the trigger that fired: "new-row", "update",
	// "conditional-update", or "manual".
	TriggerKind string `json:"trigger_type"`
	// Timestamp is the RFC 3339 time the trigger fired.
	Timestamp string `json:"timestamp"`
	// RecordID is the stable identifier of the originating row.
	RecordID string `json:"record_id,omitempty"`
}

// NewNotification builds a text notification. The plain body is sent
// as-is; the HTML body renders the subject in bold followed by the
// body run through a Markdown renderer, so templates may use emphasis,
// lists, and links in clients that display formatted messages.
func NewNotification(subject, body string, metadata NotificationMetadata) NotificationContent {
	return NotificationContent{
		MsgType:       "m.text",
		Body:          body,
		Format:        "org.matrix.custom.html",
		FormattedBody: "<strong>" + html.EscapeString(subject) + "</strong><br/>" + renderHTML(body),
		Metadata:      &metadata,
	}
}

// renderHTML converts Markdown body text to HTML. A body the renderer
// cannot process falls back to escaped plain text — a notification
// must never be dropped over formatting.
func renderHTML(body string) string {
	var buffer bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buffer); err != nil {
		return html.EscapeString(body)
	}
	return strings.TrimSpace(buffer.String())
}
