// Package calendar answers calendar_based lookups from published venue
// session calendars.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tradingcal/internal/alert"
	"tradingcal/internal/domain"
)

// Provider returns the trading days of a venue's calendar. Returned dates are
// midnight UTC, ascending, within [start, end]. A provider that does not know
// the venue returns an error wrapping domain.ErrUnknownCalendar.
type Provider interface {
	ValidDays(ctx context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, error)
}

// Chain tries providers in order. A provider reporting an unknown calendar
// hands the venue on to the next one; any other error stops the chain.
type Chain []Provider

// ValidDays implements Provider.
func (c Chain) ValidDays(ctx context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, error) {
	for _, p := range c {
		days, err := p.ValidDays(ctx, venue, start, end)
		if errors.Is(err, domain.ErrUnknownCalendar) {
			continue
		}
		return days, err
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCalendar, venue)
}

// Lookup wraps a Provider with the fail-open policy: an unknown calendar or a
// provider failure never reports a venue as closed.
type Lookup struct {
	provider Provider
	alerter  alert.Alerter
	log      *slog.Logger
}

// NewLookup creates a Lookup. A nil alerter logs alerts through log.
func NewLookup(p Provider, alerter alert.Alerter, log *slog.Logger) *Lookup {
	log = log.With("component", "calendar")
	if alerter == nil {
		alerter = alert.NewLogAlerter(log)
	}
	return &Lookup{provider: p, alerter: alerter, log: log}
}

// IsOpen reports whether date is a session day of venue.
func (l *Lookup) IsOpen(ctx context.Context, date time.Time, venue domain.Venue) domain.Resolution {
	date = domain.DateOf(date)
	days, res, ok := l.validDays(ctx, venue, date, date)
	if !ok {
		return res
	}
	for _, d := range days {
		if d.Equal(date) {
			return domain.Resolved(true, domain.SourceCalendar)
		}
	}
	return domain.Resolved(false, domain.SourceCalendar)
}

// OpenDays returns the set of session days of venue in [start, end], keyed
// by ISO date. The bool is false when the calendar could not be
// consulted; the failure has already been logged and the Resolution carries
// the fail-open reason.
func (l *Lookup) OpenDays(ctx context.Context, venue domain.Venue, start, end time.Time) (map[string]bool, domain.Resolution, bool) {
	days, res, ok := l.validDays(ctx, venue, domain.DateOf(start), domain.DateOf(end))
	if !ok {
		return nil, res, false
	}
	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[domain.FormatDate(d)] = true
	}
	return set, domain.Resolved(true, domain.SourceCalendar), true
}

func (l *Lookup) validDays(ctx context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, domain.Resolution, bool) {
	if l.provider == nil {
		l.log.Warn("no calendar provider configured, assuming open", "venue", venue)
		return nil, domain.FailOpen(domain.SourceCalendar, "no calendar provider"), false
	}

	days, err := l.provider.ValidDays(ctx, venue, start, end)
	switch {
	case err == nil:
		return days, domain.Resolution{}, true
	case errors.Is(err, domain.ErrUnknownCalendar):
		l.log.Warn("unknown venue calendar, assuming open", "venue", venue, "error", err)
		return nil, domain.FailOpen(domain.SourceCalendar, "unknown calendar"), false
	default:
		l.log.Error("calendar lookup failed, assuming open",
			"venue", venue,
			"start", domain.FormatDate(start),
			"end", domain.FormatDate(end),
			"error", err,
		)
		l.alerter.Alert(ctx, alert.New(alert.KindCalendarFailure, string(venue), err.Error()))
		return nil, domain.FailOpen(domain.SourceCalendar, err.Error()), false
	}
}
