package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date layout used for keys and parsing.
const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date, expressed at midnight UTC. The
// year/month/day are taken from t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// ParseDate parses an ISO date. Any failure wraps ErrInvalidDate.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// FormatDate renders the calendar date of t.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IsWeekend reports whether date falls on a Saturday or Sunday.
func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DaysInRange returns every calendar date in [start, end], ascending.
func DaysInRange(start, end time.Time) ([]time.Time, error) {
	start, end = DateOf(start), DateOf(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, FormatDate(end), FormatDate(start))
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// DayBounds returns the first and last instant of date in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	open := time.Date(y, m, d, 0, 0, 0, 0, loc)
	closeAt := time.Date(y, m, d, 23, 59, 59, 999999999, loc)
	return open, closeAt
}
