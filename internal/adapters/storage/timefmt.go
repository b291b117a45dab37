package storage

import (
	"database/sql"
	"time"
)

// Layouts for persisted time values. TimeLayout is fixed-width UTC so that
// lexical order in TEXT columns equals chronological order.
const (
	TimeLayout = "2006-01-02T15:04:05.000000000Z"
	DateLayout = "2006-01-02"
)

// FormatTime renders t for storage. The zero time is stored as NULL.
func FormatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(TimeLayout), Valid: true}
}

// ParseTime reads a value written by FormatTime. NULL and malformed values
// yield the zero time.
func ParseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatDate renders the calendar date of t, ignoring its clock and zone.
func FormatDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(DateLayout), Valid: true}
}

// ParseDate reads a value written by FormatDate as midnight UTC.
func ParseDate(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NullInt64 stores 0 as NULL, used for optional foreign keys.
func NullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// DayBounds returns [start, end) of the calendar day of t in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
