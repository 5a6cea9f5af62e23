package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for textual timestamps, tried in order. Zone-less layouts
// are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an RFC 3339 string, one of the zone-less layouts
// above, or a decimal count of Unix milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrInvalidArgument)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeTimestamp(t), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NormalizeTimestamp(time.UnixMilli(ms)), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrInvalidArgument, s)
}

// FormatTimestamp renders t the way every outward surface prints timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// UnmarshalJSON accepts the timestamp either as a string or as integer Unix
// milliseconds, and requires the value field to be present.
func (r *Reading) UnmarshalJSON(b []byte) error {
	var raw struct {
		SensorID  string          `json:"sensor_id"`
		Timestamp json.RawMessage `json:"timestamp"`
		Value     *float64        `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Value == nil {
		return fmt.Errorf("%w: value is required", ErrInvalidArgument)
	}
	ts, err := parseRawTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	r.SensorID = raw.SensorID
	r.Timestamp = ts
	r.Value = *raw.Value
	return nil
}

func parseRawTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: timestamp is required", ErrInvalidArgument)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return ParseTimestamp(s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp must be a string or integer milliseconds", ErrInvalidArgument)
	}
	return NormalizeTimestamp(time.UnixMilli(ms)), nil
}
