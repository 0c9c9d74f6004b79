package domain

import (
	"fmt"
	"strings"
	"time"
)

// StorageLayout is the fixed-width UTC layout used for persisted timestamps.
// Lexicographic order of values in this layout equals chronological order.
const StorageLayout = "2006-01-02T15:04:05Z"

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO 8601 timestamp. A trailing "Z" is the same as
// "+00:00" and a timestamp without an offset is taken as UTC. The result is
// always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t in StorageLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}
