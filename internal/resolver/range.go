package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradingcal/internal/cache"
	"tradingcal/internal/config"
	"tradingcal/internal/domain"
	"tradingcal/internal/metrics"
)

// GetMarketCalendar builds the calendar table for ISO dates [start, end].
// Malformed dates and ranges that end before they start are the only errors.
func (r *Resolver) GetMarketCalendar(ctx context.Context, start, end, venue string, venues []string) ([]domain.CalendarRow, error) {
	s, err := domain.ParseDate(start)
	if err != nil {
		return nil, err
	}
	e, err := domain.ParseDate(end)
	if err != nil {
		return nil, err
	}
	return r.BuildRange(ctx, s, e, domain.NormalizeVenue(venue), domain.NormalizeVenues(venues))
}

// BuildRange returns one row per calendar day in [start, end], ascending.
// With more than one venue the rows are ANDed across venues and carry no
// session bounds. Every computed row is written back to the cache in one
// batch.
func (r *Resolver) BuildRange(ctx context.Context, start, end time.Time, venue domain.Venue, venues []domain.Venue) (rows []domain.CalendarRow, err error) {
	days, err := domain.DaysInRange(start, end)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.catastrophic(ctx, "calendar range", p)
			rows, err = allOpen(days), nil
		}
	}()

	s := r.settings.Current()
	venues = normalize(venues)
	if len(venues) == 0 {
		venue = domain.NormalizeVenue(string(venue))
		if venue == "" {
			venue = s.Venue
		}
		venues = []domain.Venue{venue}
	}

	entries := make(map[string]cache.Value, len(days)*len(venues))
	if len(venues) == 1 {
		rows = r.venueRows(ctx, s, days, venues[0], entries)
		r.addBounds(rows)
	} else {
		rows = r.multiVenueRows(ctx, s, days, venues, entries)
	}

	r.cache.BatchSet(ctx, entries, r.ttl)
	metrics.AddRangeDays(len(rows))
	return rows, nil
}

// multiVenueRows builds each venue's table concurrently and ANDs them by
// date.
func (r *Resolver) multiVenueRows(ctx context.Context, s config.Settings, days []time.Time, venues []domain.Venue, entries map[string]cache.Value) []domain.CalendarRow {
	tables := make([][]domain.CalendarRow, len(venues))
	parts := make([]map[string]cache.Value, len(venues))

	var g errgroup.Group
	for i, v := range venues {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					r.catastrophic(ctx, "calendar range "+string(v), p)
					tables[i], parts[i] = allOpen(days), nil
				}
			}()
			part := make(map[string]cache.Value, len(days))
			tables[i] = r.venueRows(ctx, s, days, v, part)
			parts[i] = part
			return nil
		})
	}
	_ = g.Wait()

	rows := make([]domain.CalendarRow, len(days))
	for d := range days {
		rows[d] = domain.CalendarRow{Date: days[d], Open: true}
		for _, t := range tables {
			rows[d].Open = rows[d].Open && t[d].Open
			rows[d].Degraded = rows[d].Degraded || t[d].Degraded
		}
	}
	for _, part := range parts {
		for k, v := range part {
			entries[k] = v
		}
	}
	return rows
}

// venueRows builds the table of a single venue and records its cache
// entries.
func (r *Resolver) venueRows(ctx context.Context, s config.Settings, days []time.Time, venue domain.Venue, entries map[string]cache.Value) []domain.CalendarRow {
	class := s.ClassFor(venue)
	pol := r.policies.Resolve(class)
	rows := make([]domain.CalendarRow, len(days))

	switch pol {
	case domain.PolicyAlwaysOpenWithStatus:
		// Live status is not available for past days.
		for i, d := range days {
			rows[i] = domain.CalendarRow{Date: d, Open: true}
		}
	case domain.PolicyWeekdayWithHolidays:
		for i, d := range days {
			rows[i] = domain.CalendarRow{Date: d, Open: r.holidays.IsOpen(d, class)}
		}
	case domain.PolicyCalendarBased:
		// One batched lookup for the whole range; the lookup has already
		// logged and alerted when it fails.
		open, _, ok := r.calendar.OpenDays(ctx, venue, days[0], days[len(days)-1])
		if !ok {
			return markCached(allOpen(days), class, venue, entries)
		}
		for i, d := range days {
			rows[i] = domain.CalendarRow{Date: d, Open: open[domain.FormatDate(d)]}
		}
	default:
		r.log.Error("unhandled policy, assuming open", "policy", pol, "class", class)
		return markCached(allOpen(days), class, venue, entries)
	}
	return markCached(rows, class, venue, entries)
}

// addBounds sets each row's session bounds to the start and end of its day
// in the configured timezone.
func (r *Resolver) addBounds(rows []domain.CalendarRow) {
	for i := range rows {
		open, closeAt := domain.DayBounds(rows[i].Date, r.loc)
		rows[i].OpenTime, rows[i].CloseTime = &open, &closeAt
	}
}

func markCached(rows []domain.CalendarRow, class domain.AssetClass, venue domain.Venue, entries map[string]cache.Value) []domain.CalendarRow {
	for _, row := range rows {
		entries[domain.CacheKey(class, venue, row.Date)] = cache.ValueOf(row.Open, row.Degraded)
	}
	return rows
}

// allOpen is the fail-open table.
func allOpen(days []time.Time) []domain.CalendarRow {
	rows := make([]domain.CalendarRow, len(days))
	for i, d := range days {
		rows[i] = domain.CalendarRow{Date: d, Open: true, Degraded: true}
	}
	return rows
}

// FormatRows renders rows as a fixed-width text table.
func FormatRows(rows []domain.CalendarRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s  %-5s  %-25s  %-25s  %s\n", "date", "open", "open_time", "close_time", "degraded")
	for _, row := range rows {
		fmt.Fprintf(&b, "%-10s  %-5t  %-25s  %-25s  %t\n",
			domain.FormatDate(row.Date), row.Open, stamp(row.OpenTime), stamp(row.CloseTime), row.Degraded)
	}
	return b.String()
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
