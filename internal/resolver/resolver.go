// Package resolver decides whether a date is a trading day for one or more
// venues. Every environmental failure resolves to open; only malformed caller
// input is reported as an error.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradingcal/internal/alert"
	"tradingcal/internal/cache"
	"tradingcal/internal/config"
	"tradingcal/internal/domain"
	"tradingcal/internal/metrics"
	"tradingcal/internal/policy"
)

// SettingsSource supplies the asset class and default venue. It is read once
// per call.
type SettingsSource interface {
	Current() config.Settings
}

// StatusProbe checks the live status of always-open venues.
type StatusProbe interface {
	IsOpen(ctx context.Context, venue domain.Venue) domain.Resolution
}

// CalendarLookup answers calendar_based questions. Implementations fail open.
type CalendarLookup interface {
	IsOpen(ctx context.Context, date time.Time, venue domain.Venue) domain.Resolution
	OpenDays(ctx context.Context, venue domain.Venue, start, end time.Time) (map[string]bool, domain.Resolution, bool)
}

// Deps are the collaborators of a Resolver. Nil fields take fail-open or
// empty defaults.
type Deps struct {
	Settings SettingsSource
	Policies *policy.Registry
	Holidays *policy.HolidayTable
	Probe    StatusProbe
	Calendar CalendarLookup
	Cache    cache.Store
	TTL      time.Duration
	Location *time.Location
	Now      func() time.Time
	Alerter  alert.Alerter
	Log      *slog.Logger
}

// Resolver is the trading-day resolution service.
type Resolver struct {
	settings SettingsSource
	policies *policy.Registry
	holidays *policy.HolidayTable
	probe    StatusProbe
	calendar CalendarLookup
	cache    cache.Store
	ttl      time.Duration
	loc      *time.Location
	now      func() time.Time
	alerter  alert.Alerter
	log      *slog.Logger
}

// New builds a Resolver from d.
func New(d Deps) *Resolver {
	r := &Resolver{
		settings: d.Settings,
		policies: d.Policies,
		holidays: d.Holidays,
		probe:    d.Probe,
		calendar: d.Calendar,
		cache:    d.Cache,
		ttl:      d.TTL,
		loc:      d.Location,
		now:      d.Now,
		alerter:  d.Alerter,
		log:      d.Log,
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "resolver")
	if r.settings == nil {
		r.settings = config.NewStaticSource(config.Settings{})
	}
	if r.policies == nil {
		r.policies = policy.DefaultRegistry()
	}
	if r.holidays == nil {
		r.holidays = policy.DefaultHolidayTable()
	}
	if r.probe == nil {
		r.probe = noProbe{}
	}
	if r.calendar == nil {
		r.calendar = noCalendar{}
	}
	if r.cache == nil {
		r.cache = cache.Disabled{}
	}
	if r.ttl <= 0 {
		r.ttl = cache.DefaultTTL
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.alerter == nil {
		r.alerter = alert.NewLogAlerter(r.log)
	}
	return r
}

// IsTradingDay is the boolean view of Resolve over string inputs. date is
// ISO YYYY-MM-DD; empty means today. The error is non-nil only for a
// malformed date.
func (r *Resolver) IsTradingDay(ctx context.Context, date, venue string, venues []string) (bool, error) {
	q := domain.Query{
		Venue:  domain.NormalizeVenue(venue),
		Venues: domain.NormalizeVenues(venues),
	}
	if strings.TrimSpace(date) != "" {
		d, err := domain.ParseDate(date)
		if err != nil {
			return false, err
		}
		q.Date = d
	}
	res, err := r.Resolve(ctx, q)
	if err != nil {
		return false, err
	}
	return res.Open, nil
}

// Resolve answers q. A non-empty q.Venues is resolved as the AND over every
// venue; otherwise q.Venue, or the configured default venue, is resolved.
func (r *Resolver) Resolve(ctx context.Context, q domain.Query) (res domain.Resolution, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = r.catastrophic(ctx, "resolve", p), nil
		}
	}()

	s := r.settings.Current()
	date := r.normalizeDate(q.Date)

	venues := normalize(q.Venues)
	if len(venues) > 0 {
		return r.resolveAll(ctx, s, date, venues), nil
	}
	venue := domain.NormalizeVenue(string(q.Venue))
	if venue == "" {
		venue = s.Venue
	}
	return r.resolveOne(ctx, s, date, venue), nil
}

// resolveAll resolves every venue concurrently and ANDs the results.
func (r *Resolver) resolveAll(ctx context.Context, s config.Settings, date time.Time, venues []domain.Venue) domain.Resolution {
	if len(venues) == 1 {
		return r.resolveOne(ctx, s, date, venues[0])
	}

	results := make([]domain.Resolution, len(venues))
	var g errgroup.Group
	for i, v := range venues {
		g.Go(func() error {
			results[i] = r.safely(ctx, "resolve "+string(v), func() domain.Resolution {
				return r.resolveOne(ctx, s, date, v)
			})
			return nil
		})
	}
	_ = g.Wait()

	out := domain.Resolution{Open: true, Source: domain.SourceMulti}
	var reasons []string
	for i, res := range results {
		if !res.Open {
			out.Open = false
		}
		if res.Degraded {
			out.Degraded = true
			reasons = append(reasons, fmt.Sprintf("%s: %s", venues[i], res.Reason))
		}
	}
	out.Reason = strings.Join(reasons, "; ")
	return out
}

// resolveOne is the cache-aside path for a single venue.
func (r *Resolver) resolveOne(ctx context.Context, s config.Settings, date time.Time, venue domain.Venue) domain.Resolution {
	start := time.Now()
	class := s.ClassFor(venue)
	key := domain.CacheKey(class, venue, date)

	if v, ok := r.cache.Get(ctx, key); ok {
		metrics.IncCacheLookup(true)
		return fromCache(v)
	}
	metrics.IncCacheLookup(false)

	pol := r.policies.Resolve(class)
	res := r.evaluate(ctx, pol, class, date, venue)
	r.cache.Set(ctx, key, cache.ValueOf(res.Open, res.Degraded), r.ttl)

	metrics.ObserveResolution(string(pol), string(res.Source), res.Open, res.Degraded, time.Since(start))
	r.log.Debug("resolved",
		"venue", venue,
		"class", class,
		"policy", pol,
		"date", domain.FormatDate(date),
		"open", res.Open,
		"degraded", res.Degraded,
	)
	return res
}

// PolicyFor reports the policy venue resolves under with the current
// settings. An empty venue means the configured default.
func (r *Resolver) PolicyFor(venue domain.Venue) domain.Policy {
	s := r.settings.Current()
	venue = domain.NormalizeVenue(string(venue))
	if venue == "" {
		venue = s.Venue
	}
	return r.policies.Resolve(s.ClassFor(venue))
}

// fromCache decodes a cached answer. A cached fallback stays degraded.
func fromCache(v cache.Value) domain.Resolution {
	if v == cache.Degraded {
		return domain.FailOpen(domain.SourceCache, "cached fallback")
	}
	return domain.Resolved(v.IsOpen(), domain.SourceCache)
}

// evaluate dispatches to the strategy of pol.
func (r *Resolver) evaluate(ctx context.Context, pol domain.Policy, class domain.AssetClass, date time.Time, venue domain.Venue) domain.Resolution {
	switch pol {
	case domain.PolicyAlwaysOpenWithStatus:
		return r.probe.IsOpen(ctx, venue)
	case domain.PolicyWeekdayWithHolidays:
		return domain.Resolved(r.holidays.IsOpen(date, class), domain.SourceHolidays)
	case domain.PolicyCalendarBased:
		return r.calendar.IsOpen(ctx, date, venue)
	default:
		r.log.Error("unhandled policy, assuming open", "policy", pol, "class", class)
		return domain.FailOpen(domain.SourceFallback, "unhandled policy "+string(pol))
	}
}

// safely runs fn, converting a panic into the catastrophic fail-open result.
// Fan-out goroutines need their own recover; a panic there would not reach
// the caller's deferred handler.
func (r *Resolver) safely(ctx context.Context, op string, fn func() domain.Resolution) (res domain.Resolution) {
	defer func() {
		if p := recover(); p != nil {
			res = r.catastrophic(ctx, op, p)
		}
	}()
	return fn()
}

func (r *Resolver) catastrophic(ctx context.Context, op string, p any) domain.Resolution {
	msg := fmt.Sprintf("%s: panic: %v", op, p)
	r.log.Error("critical error in trading day resolution, assuming open",
		"severity", "critical",
		"op", op,
		"panic", fmt.Sprint(p),
		"stack", string(debug.Stack()),
	)
	r.alerter.Alert(ctx, alert.New(alert.KindCatastrophic, "", msg))
	return domain.FailOpen(domain.SourceFallback, msg)
}

func (r *Resolver) normalizeDate(d time.Time) time.Time {
	if d.IsZero() {
		return domain.Today(r.now(), r.loc)
	}
	return domain.DateOf(d)
}

func normalize(venues []domain.Venue) []domain.Venue {
	out := make([]domain.Venue, 0, len(venues))
	for _, v := range venues {
		if n := domain.NormalizeVenue(string(v)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// noProbe and noCalendar stand in for unconfigured collaborators.
type (
	noProbe    struct{}
	noCalendar struct{}
)

func (noProbe) IsOpen(context.Context, domain.Venue) domain.Resolution {
	return domain.FailOpen(domain.SourceProbe, "no status probe configured")
}

func (noCalendar) IsOpen(context.Context, time.Time, domain.Venue) domain.Resolution {
	return domain.FailOpen(domain.SourceCalendar, "no calendar configured")
}

func (noCalendar) OpenDays(context.Context, domain.Venue, time.Time, time.Time) (map[string]bool, domain.Resolution, bool) {
	return nil, domain.FailOpen(domain.SourceCalendar, "no calendar configured"), false
}
