// Package timestamp provides the canonical timestamp handling for the bus.
//
// All directory and subscription timestamps are stored as int64
// milliseconds since the Unix epoch, UTC. Rounding to millisecond
// granularity happens once, at the repository boundary, so that strict
// ordering comparisons never alias on sub-millisecond differences.
//
// Zero Value Semantics:
//   - A timestamp value of 0 means "not set" or "unknown"
//   - Functions handle zero values gracefully, returning appropriate defaults
package timestamp

import (
	"time"
)

// Now returns the current UTC time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// FromTime converts a time.Time to Unix milliseconds, rounding away
// any sub-millisecond component. The zero time converts to 0.
func FromTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ToTime converts Unix milliseconds to a UTC time.Time.
// Returns the zero time if ms is 0.
func ToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Round truncates a time to millisecond granularity, preserving UTC.
// This is the boundary normalization applied to every timestamp
// entering the peer repository.
func Round(t time.Time) time.Time {
	return t.Truncate(time.Millisecond).UTC()
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns empty string if ms is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// IsZero checks if a timestamp is unset.
func IsZero(ms int64) bool {
	return ms == 0
}

// Since returns the duration since the given timestamp.
// Returns 0 if ms is 0.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}

// After reports whether a is strictly after b. This is the comparison
// used for the monotonic update rule: equal timestamps are NOT after
// one another, so a replayed update never reapplies.
func After(a, b int64) bool {
	return a > b
}

// Max returns the later of two timestamps.
// Zero values are treated as "earlier than any other time".
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
