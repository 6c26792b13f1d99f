package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingcal/internal/alert"
	"tradingcal/internal/domain"
	"tradingcal/internal/util"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeClient serves a fixed calendar, failing the first failN calls. A set
// err is returned on every call.
type fakeClient struct {
	days  []alpaca.CalendarDay
	failN int
	err   error
	calls int
	reqs  []alpaca.GetCalendarRequest
}

func (f *fakeClient) GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failN {
		return nil, errors.New("503 service unavailable")
	}
	return append([]alpaca.CalendarDay(nil), f.days...), nil
}

// January 2026: New Year's Day (Thu) closed, Fri 2nd open, weekend closed.
var jan2026 = []alpaca.CalendarDay{
	{Date: "2025-12-31", Open: "09:30", Close: "16:00"},
	{Date: "2026-01-02", Open: "09:30", Close: "16:00"},
	{Date: "2026-01-05", Open: "09:30", Close: "16:00"},
}

func newAlpaca(t *testing.T, c CalendarClient) *AlpacaProvider {
	t.Helper()
	p, err := NewAlpacaProvider(c, []string{"nyse", "NASDAQ"}, util.Discard())
	require.NoError(t, err)
	p.backoff = time.Millisecond
	return p
}

func TestAlpacaValidDays(t *testing.T) {
	p := newAlpaca(t, &fakeClient{days: jan2026})

	days, err := p.ValidDays(context.Background(), "NYSE", date(2026, 1, 1), date(2026, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2026, 1, 2), date(2026, 1, 5)}, days,
		"days outside the requested window are dropped")
}

func TestAlpacaUnknownVenue(t *testing.T) {
	c := &fakeClient{days: jan2026}
	p := newAlpaca(t, c)

	_, err := p.ValidDays(context.Background(), "LSE", date(2026, 1, 1), date(2026, 1, 1))
	assert.ErrorIs(t, err, domain.ErrUnknownCalendar)
	assert.Zero(t, c.calls, "unknown venues must not hit the API")
	assert.False(t, p.Serves("LSE"))
	assert.True(t, p.Serves("NYSE"))
}

func TestAlpacaRetries(t *testing.T) {
	c := &fakeClient{days: jan2026, failN: 2}
	p := newAlpaca(t, c)

	days, err := p.ValidDays(context.Background(), "NASDAQ", date(2026, 1, 2), date(2026, 1, 2))
	require.NoError(t, err)
	assert.Len(t, days, 1)
	assert.Equal(t, 3, c.calls)
}

func TestAlpacaGivesUp(t *testing.T) {
	c := &fakeClient{failN: 100}
	p := newAlpaca(t, c)

	_, err := p.ValidDays(context.Background(), "NYSE", date(2026, 1, 2), date(2026, 1, 2))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnknownCalendar)
	assert.Equal(t, 3, c.calls)
}

func TestAlpacaStopsOnClientErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		calls int
	}{
		{"unauthorized", &alpaca.APIError{StatusCode: 401, Message: "access key verification failed"}, 1},
		{"forbidden", &alpaca.APIError{StatusCode: 403, Message: "forbidden"}, 1},
		{"rate limited", &alpaca.APIError{StatusCode: 429, Message: "too many requests"}, 3},
		{"server error", &alpaca.APIError{StatusCode: 502, Message: "bad gateway"}, 3},
		{"cancelled", context.Canceled, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeClient{err: tc.err}
			p := newAlpaca(t, c)

			_, err := p.ValidDays(context.Background(), "NYSE", date(2026, 1, 2), date(2026, 1, 2))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.calls, c.calls)
		})
	}
}

func TestAlpacaHonoursCancelledContext(t *testing.T) {
	c := &fakeClient{days: jan2026}
	p := newAlpaca(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ValidDays(ctx, "NYSE", date(2026, 1, 2), date(2026, 1, 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.calls)
}

func TestNewAlpacaClientTimeout(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-stall
	}))
	defer srv.Close()
	defer close(stall)

	client := NewAlpacaClient("key", "secret", srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.GetCalendar(alpaca.GetCalendarRequest{Start: date(2026, 1, 2), End: date(2026, 1, 2)})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAlpacaSessions(t *testing.T) {
	p := newAlpaca(t, &fakeClient{days: []alpaca.CalendarDay{
		{Date: "2026-11-27", Open: "09:30", Close: "13:00"},
	}})

	sessions, err := p.Sessions(context.Background(), "NYSE", date(2026, 11, 27), date(2026, 11, 27))
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, date(2026, 11, 27), s.Date)
	// 09:30 EST is 14:30 UTC; the early close at 13:00 EST is 18:00 UTC.
	assert.Equal(t, time.Date(2026, 11, 27, 14, 30, 0, 0, time.UTC), s.Open.UTC())
	assert.Equal(t, time.Date(2026, 11, 27, 18, 0, 0, 0, time.UTC), s.Close.UTC())
}

// --- Chain ---

type fakeProvider struct {
	days  map[domain.Venue][]time.Time
	err   error
	calls int
}

func (f *fakeProvider) ValidDays(_ context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	all, ok := f.days[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCalendar, venue)
	}
	var out []time.Time
	for _, d := range all {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestChainFallsThroughUnknown(t *testing.T) {
	first := &fakeProvider{days: map[domain.Venue][]time.Time{"NYSE": {date(2026, 1, 2)}}}
	second := &fakeProvider{days: map[domain.Venue][]time.Time{"XLON": {date(2026, 1, 2)}}}
	c := Chain{first, second}
	ctx := context.Background()

	days, err := c.ValidDays(ctx, "XLON", date(2026, 1, 1), date(2026, 1, 3))
	require.NoError(t, err)
	assert.Len(t, days, 1)

	_, err = c.ValidDays(ctx, "XTKS", date(2026, 1, 1), date(2026, 1, 3))
	assert.ErrorIs(t, err, domain.ErrUnknownCalendar)
}

func TestChainStopsOnHardError(t *testing.T) {
	first := &fakeProvider{err: errors.New("disk on fire")}
	second := &fakeProvider{days: map[domain.Venue][]time.Time{"NYSE": {date(2026, 1, 2)}}}

	_, err := Chain{first, second}.ValidDays(context.Background(), "NYSE", date(2026, 1, 2), date(2026, 1, 2))
	assert.Error(t, err)
	assert.Zero(t, second.calls)
}

// --- Lookup ---

func nyse() *fakeProvider {
	return &fakeProvider{days: map[domain.Venue][]time.Time{
		"NYSE": {date(2026, 1, 2), date(2026, 1, 5)},
	}}
}

func TestLookupIsOpen(t *testing.T) {
	rec := &alert.Recorder{}
	l := NewLookup(nyse(), rec, util.Discard())
	ctx := context.Background()

	assert.Equal(t, domain.Resolved(false, domain.SourceCalendar), l.IsOpen(ctx, date(2026, 1, 1), "NYSE"))
	assert.Equal(t, domain.Resolved(true, domain.SourceCalendar), l.IsOpen(ctx, date(2026, 1, 2), "NYSE"))
	assert.Empty(t, rec.Alerts())
}

func TestLookupIgnoresTimeOfDay(t *testing.T) {
	l := NewLookup(nyse(), &alert.Recorder{}, util.Discard())

	res := l.IsOpen(context.Background(), time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), "NYSE")
	assert.True(t, res.Open)
	assert.False(t, res.Degraded)
}

func TestLookupUnknownCalendarFailsOpen(t *testing.T) {
	rec := &alert.Recorder{}
	l := NewLookup(nyse(), rec, util.Discard())

	res := l.IsOpen(context.Background(), date(2026, 1, 1), "BINANCE")
	assert.True(t, res.Open)
	assert.True(t, res.Degraded)
	assert.Empty(t, rec.Alerts(), "an unknown calendar is logged, not alerted")
}

func TestLookupProviderErrorFailsOpenAndAlerts(t *testing.T) {
	rec := &alert.Recorder{}
	l := NewLookup(&fakeProvider{err: errors.New("timeout")}, rec, util.Discard())

	res := l.IsOpen(context.Background(), date(2026, 1, 1), "NYSE")
	assert.True(t, res.Open)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, rec.Count(alert.KindCalendarFailure))
}

func TestLookupNilProvider(t *testing.T) {
	l := NewLookup(nil, &alert.Recorder{}, util.Discard())

	res := l.IsOpen(context.Background(), date(2026, 1, 1), "NYSE")
	assert.True(t, res.Open)
	assert.True(t, res.Degraded)
}

func TestLookupOpenDays(t *testing.T) {
	l := NewLookup(nyse(), &alert.Recorder{}, util.Discard())
	ctx := context.Background()

	set, _, ok := l.OpenDays(ctx, "NYSE", date(2026, 1, 1), date(2026, 1, 4))
	require.True(t, ok)
	assert.Equal(t, map[string]bool{"2026-01-02": true}, set)

	_, res, ok := l.OpenDays(ctx, "XTKS", date(2026, 1, 1), date(2026, 1, 4))
	assert.False(t, ok)
	assert.True(t, res.Degraded)
}
