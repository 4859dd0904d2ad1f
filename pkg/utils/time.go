package utils

import (
	"time"
)

// isoFormat is the gateway wire timestamp layout: UTC ISO-8601 with
// microsecond precision and a literal Z suffix.
const isoFormat = "2006-01-02T15:04:05.000000Z"

// NowISO returns the current UTC time in the gateway wire format.
func NowISO() string {
	return FormatISO(time.Now())
}

// FormatISO formats a timestamp in the gateway wire format.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoFormat)
}

// ParseISO parses a gateway wire timestamp.
func ParseISO(s string) (time.Time, error) {
	return time.Parse(isoFormat, s)
}

// Now returns current time (useful for mocking in tests)
func Now() time.Time {
	return time.Now()
}
