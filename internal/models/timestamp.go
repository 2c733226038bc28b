package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp is a credential time value. It is written in TimestampLayout and
// read from any ISO-8601 variant the credential files have carried. Values
// without an offset are taken as local time.
type Timestamp time.Time

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses s using the accepted credential layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Time returns the underlying time; a nil receiver yields the zero time.
func (ts *Timestamp) Time() time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Time(*ts)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatTimestamp(time.Time(ts)))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = Timestamp(t)
	return nil
}

func timestampPtr(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	ts := Timestamp(t)
	return &ts
}
