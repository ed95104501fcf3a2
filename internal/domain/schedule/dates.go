// Package schedule implements the dose occurrence-reconciliation engine:
// recurrence rules, range gating, the virtual/exception merge and the dose
// status machine. Everything here is a pure computation over in-memory data;
// persistence lives behind the interfaces in repository.go.
package schedule

import "time"

// All day arithmetic in this package is UTC. Instants are minute precision;
// callers must zero seconds and sub-second fields before handing them in.

// AtMinute truncates an instant to UTC minute precision.
func AtMinute(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC)
}

// IsMinutePrecise reports whether an instant carries no seconds or sub-second
// component. Handlers reject inputs that fail this check.
func IsMinutePrecise(t time.Time) bool {
	u := t.UTC()
	return u.Second() == 0 && u.Nanosecond() == 0
}

// DayOf returns the UTC midnight of the instant's calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole-day difference between two instants,
// ignoring time of day. Negative when b's day precedes a's.
func DaysBetween(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)).Hours() / 24)
}

// HourMinute formats an instant's time of day as "HH:MM".
func HourMinute(t time.Time) string {
	return t.UTC().Format("15:04")
}

// WeekdayName returns the lowercase english weekday of the instant's UTC day.
func WeekdayName(t time.Time) string {
	switch t.UTC().Weekday() {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}

// atTime combines a calendar day with an already-validated "HH:MM" string.
func atTime(day time.Time, hhmm string) time.Time {
	h := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	m := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	d := DayOf(day)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, time.UTC)
}
