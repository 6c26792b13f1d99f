// Package store persists venue session calendars and calendar range reports.
package store

import (
	"context"
	"time"

	"tradingcal/internal/domain"
)

// Coverage is the window of dates for which a venue's sessions were synced.
// Inside the window a missing day is a closed day; outside it the calendar is
// unknown.
type Coverage struct {
	Venue    domain.Venue
	FirstDay time.Time
	LastDay  time.Time
	Source   string
	SyncedAt time.Time
}

// Contains reports whether every day in [start, end] is covered.
func (c Coverage) Contains(start, end time.Time) bool {
	start, end = domain.DateOf(start), domain.DateOf(end)
	return !start.Before(c.FirstDay) && !end.After(c.LastDay)
}

// SessionStore persists and retrieves published venue sessions.
type SessionStore interface {
	// UpsertSessions replaces the stored sessions of venue in [start, end]
	// and extends its coverage to include the window.
	UpsertSessions(ctx context.Context, venue domain.Venue, source string, start, end time.Time, sessions []domain.Session) error

	// ValidDays returns the session days of venue within [start, end]. It
	// fails with domain.ErrUnknownCalendar when the window is not covered.
	ValidDays(ctx context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, error)

	// Sessions returns the stored sessions of venue within [start, end].
	Sessions(ctx context.Context, venue domain.Venue, start, end time.Time) ([]domain.Session, error)

	// Coverage returns the synced window of venue.
	Coverage(ctx context.Context, venue domain.Venue) (Coverage, error)

	// Venues lists every venue with a synced calendar.
	Venues(ctx context.Context) ([]domain.Venue, error)
}

// CalendarStore persists calendar range reports.
type CalendarStore interface {
	// WriteCalendar merges rows into the stored report for label.
	WriteCalendar(ctx context.Context, label string, rows []domain.CalendarRow) error

	// ReadCalendar returns stored rows for label within [start, end].
	ReadCalendar(ctx context.Context, label string, start, end time.Time) ([]domain.CalendarRow, error)
}
