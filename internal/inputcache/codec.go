package inputcache

import (
	"encoding/json"
	"fmt"
	"time"

	"feedinput/internal/soupparse"
)

// EncodeEntries is the column form SQL backends store.
func EncodeEntries(entries []soupparse.Entry) (string, error) {
	if entries == nil {
		entries = []soupparse.Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode entries: %w", err)
	}
	return string(b), nil
}

// DecodeEntries reverses EncodeEntries.
func DecodeEntries(s string) ([]soupparse.Entry, error) {
	var out []soupparse.Entry
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return out, nil
}

// FormatTime renders a timestamp for TEXT columns. RFC3339Nano in UTC sorts
// lexically and round-trips exactly.
func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ParseTime reverses FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored_at %q: %w", s, err)
	}
	return t, nil
}
