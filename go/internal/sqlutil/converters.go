package sqlutil

import (
	"database/sql"
	"time"
)

// Helpers for moving values between Go and SQLite column types.

// ToNullString maps an empty string to NULL.
func ToNullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

// FromNullString converts sql.NullString to a Go string, returning "" for NULL.
func FromNullString(val sql.NullString) string {
	if !val.Valid {
		return ""
	}
	return val.String
}

// ToUnixNano stores a time as integer nanoseconds since the epoch.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromUnixNano is the inverse of ToUnixNano. Zero maps back to the zero time.
func FromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ToBool converts an INTEGER flag column.
func ToBool(n int64) bool {
	return n != 0
}

// FromBool is the inverse of ToBool.
func FromBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
