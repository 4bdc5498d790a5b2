// Package caltime normalizes appointment timestamps to UTC and
// expands RFC-5545 recurrence rules over a date range.
package caltime

import "time"

// ToUTC converts t to UTC. A timestamp already in UTC (which is also
// what time.Parse yields for input without a zone) is returned as is;
// a timestamp in any other location, time.Local included, is
// converted to the same instant in UTC.
func ToUTC(t time.Time) time.Time {
	if t.Location() == time.UTC {
		return t
	}
	return t.UTC()
}

// StartOfDay returns midnight UTC for the calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	t = ToUTC(t)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last nanosecond of the calendar day containing
// t, UTC.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
