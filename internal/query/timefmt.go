// Package query serves the read side of collections: the directory, min/max
// waveform summaries and exact raw clips.
package query

import (
	"errors"
	"strings"
	"time"
)

// InstantLayout is the only instant format used at the HTTP boundary.
const InstantLayout = "2006-01-02T15:04:05.000Z"

var ErrInvalidInstant = errors.New("invalid instant, expected ISO-8601 like 2025-01-01T00:00:00.000Z")

// FormatInstant renders t in UTC with millisecond precision and a literal Z.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// ParseInstant accepts any RFC3339 instant and returns it in UTC. A value
// without a zone designator is read as UTC, never as local time.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidInstant
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, ErrInvalidInstant
}
