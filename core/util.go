package core

import (
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database

	"github.com/google/uuid"
)

// TimeLayout is how timestamps are stored: fixed width, UTC, so text comparison matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// FormatTime formats t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime; RFC 3339 is accepted too.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// IsUUID reports whether s is a well-formed uuid.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewID returns a new random uuid string.
func NewID() string {
	return uuid.NewString()
}
