// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package render expands message templates against a row's fields.
//
// Templates use {{name}} placeholders. A placeholder naming a field
// present on the row expands to that field's value (empty string when
// the value is nil). The fixed placeholders {{date}}, {{time}}, and
// {{id}} expand to the formatted trigger time and the row identifier.
// Placeholders matching nothing stay in the output verbatim, so a
// typo in a template shows up in the delivered message instead of
// vanishing silently.
package render

import (
	"strings"
	"time"

	"github.com/tablerelay/tablerelay/grid"
)

// Layouts for the fixed {{date}} and {{time}} placeholders.
const (
	DateLayout = "02/01/2006"
	TimeLayout = "15:04"
)

// Render expands template against the row's fields at the given
// trigger time. Row fields shadow the fixed placeholders, so a grid
// column named "date" wins over the trigger date. Pure function, safe
// for concurrent use.
func Render(template string, row grid.Row, now time.Time) string {
	var output strings.Builder
	output.Grow(len(template))

	remaining := template
	for {
		start := strings.Index(remaining, "{{")
		if start < 0 {
			output.WriteString(remaining)
			return output.String()
		}
		end := strings.Index(remaining[start+2:], "}}")
		if end < 0 {
			output.WriteString(remaining)
			return output.String()
		}

		name := remaining[start+2 : start+2+end]
		output.WriteString(remaining[:start])

		if value, ok := expand(name, row, now); ok {
			output.WriteString(value)
		} else {
			output.WriteString(remaining[start : start+2+end+2])
		}
		remaining = remaining[start+2+end+2:]
	}
}

func expand(name string, row grid.Row, now time.Time) (string, bool) {
	if value, present := row.Field(name); present {
		if value == nil {
			return "", true
		}
		text, _ := row.String(name)
		return text, true
	}

	switch name {
	case "date":
		return now.Format(DateLayout), true
	case "time":
		return now.Format(TimeLayout), true
	case "id":
		return row.ID, true
	}
	return "", false
}
