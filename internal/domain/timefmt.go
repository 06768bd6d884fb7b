// Package domain timefmt.go contains the fixed-width time encodings used in
// store sort keys. Fixed width keeps lexicographic and chronological order
// identical.
package domain

import "time"

const (
	// TimeLayout encodes instants, always in UTC.
	TimeLayout = "2006-01-02T15:04:05.000000Z07:00"
	// DayLayout encodes a calendar day shard.
	DayLayout = "2006-01-02"
	// TimeOfDayLayout encodes the position of an instant within its day shard.
	TimeOfDayLayout = "15:04:05.000000"
)

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parses a TimeLayout string.
func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }

// FormatDay renders the UTC calendar day of t.
func FormatDay(t time.Time) string { return t.UTC().Format(DayLayout) }

// FormatTimeOfDay renders the UTC time of day of t.
func FormatTimeOfDay(t time.Time) string { return t.UTC().Format(TimeOfDayLayout) }
