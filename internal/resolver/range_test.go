package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingcal/internal/alert"
	"tradingcal/internal/cache"
	"tradingcal/internal/domain"
)

func TestRangeOneRowPerDay(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassForex, "OANDA")}).build()

	rows, err := r.GetMarketCalendar(context.Background(), "2026-01-01", "2026-03-31", "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 31+28+31)

	for i, row := range rows {
		want := date(2026, 1, 1).AddDate(0, 0, i)
		require.True(t, row.Date.Equal(want), "row %d is %s, want %s", i, domain.FormatDate(row.Date), domain.FormatDate(want))
	}
}

func TestRangeSingleDay(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassForex, "OANDA")}).build()

	rows, err := r.GetMarketCalendar(context.Background(), "2026-12-25", "2026-12-25", "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Open)
}

func TestRangeWeekdayRule(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassForex, "OANDA")}).build()

	rows, err := r.BuildRange(context.Background(), date(2025, 12, 24), date(2025, 12, 29), "", nil)
	require.NoError(t, err)

	got := make(map[string]bool, len(rows))
	for _, row := range rows {
		got[domain.FormatDate(row.Date)] = row.Open
	}
	assert.Equal(t, map[string]bool{
		"2025-12-24": true,
		"2025-12-25": false, // holiday
		"2025-12-26": false, // holiday
		"2025-12-27": false, // Saturday
		"2025-12-28": false, // Sunday
		"2025-12-29": true,
	}, got)
}

func TestRangeCryptoAlwaysOpen(t *testing.T) {
	p := &fakeProbe{status: map[domain.Venue]bool{"BINANCE": false}}
	r := (&fixture{settings: settings(domain.AssetClassCrypto, "BINANCE"), probe: p}).build()

	rows, err := r.BuildRange(context.Background(), date(2026, 1, 1), date(2026, 1, 14), "", nil)
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Open)
		assert.False(t, row.Degraded)
	}
	assert.Zero(t, p.Calls(), "past days are never probed")
}

func TestPolicyFor(t *testing.T) {
	s := settings(domain.AssetClassTraditional, "NYSE")
	s.VenueClasses = map[domain.Venue]domain.AssetClass{"BINANCE": domain.AssetClassCrypto}
	r := (&fixture{settings: s}).build()

	assert.Equal(t, domain.PolicyCalendarBased, r.PolicyFor(""))
	assert.Equal(t, domain.PolicyAlwaysOpenWithStatus, r.PolicyFor("binance"))
}

func TestRangeCalendarBatched(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassTraditional, "NYSE")}).build()

	rows, err := r.BuildRange(context.Background(), date(2025, 12, 31), date(2026, 1, 5), "nyse", nil)
	require.NoError(t, err)

	var open []string
	for _, row := range rows {
		if row.Open {
			open = append(open, domain.FormatDate(row.Date))
		}
	}
	assert.Equal(t, []string{"2025-12-31", "2026-01-02", "2026-01-05"}, open)
}

func TestRangeCalendarFailureFailsOpen(t *testing.T) {
	f := &fixture{
		settings: settings(domain.AssetClassTraditional, "NYSE"),
		provider: sessionDays{err: errors.New("calendar service down")},
	}
	r := f.build()

	rows, err := r.BuildRange(context.Background(), date(2026, 1, 1), date(2026, 1, 10), "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, row := range rows {
		assert.True(t, row.Open)
		assert.True(t, row.Degraded)
	}
	assert.Equal(t, 1, f.alerts.Count(alert.KindCalendarFailure))
}

func TestRangeSessionBounds(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	r := (&fixture{settings: settings(domain.AssetClassForex, "OANDA"), loc: ny}).build()

	rows, err := r.BuildRange(context.Background(), date(2026, 7, 1), date(2026, 7, 2), "", nil)
	require.NoError(t, err)

	for _, row := range rows {
		require.NotNil(t, row.OpenTime)
		require.NotNil(t, row.CloseTime)
		assert.Equal(t, ny, row.OpenTime.Location())
		assert.Equal(t, 0, row.OpenTime.Hour())
		assert.Equal(t, row.Date.Day(), row.OpenTime.Day())
		assert.Equal(t, 23, row.CloseTime.Hour())
		assert.Equal(t, 59, row.CloseTime.Minute())
		assert.Equal(t, row.Date.Day(), row.CloseTime.Day())
	}
	// Midnight EDT is 04:00 UTC.
	assert.Equal(t, time.Date(2026, 7, 1, 4, 0, 0, 0, time.UTC), rows[0].OpenTime.UTC())
}

func TestRangeMultiVenue(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassTraditional, "NYSE")}).build()

	rows, err := r.GetMarketCalendar(context.Background(), "2025-12-24", "2026-01-02", "", []string{"LSE", "NYSE"})
	require.NoError(t, err)
	require.Len(t, rows, 10)

	got := make(map[string]bool, len(rows))
	for _, row := range rows {
		assert.Nil(t, row.OpenTime, "multi-venue rows carry no session bounds")
		assert.Nil(t, row.CloseTime)
		got[domain.FormatDate(row.Date)] = row.Open
	}
	assert.True(t, got["2025-12-24"])
	assert.False(t, got["2025-12-26"], "LSE closed for Boxing Day")
	assert.False(t, got["2026-01-01"], "both closed")
	assert.True(t, got["2026-01-02"])
}

func TestRangeMultiVenueOrderInsensitive(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassTraditional, "NYSE")}).build()
	ctx := context.Background()

	ab, err := r.GetMarketCalendar(ctx, "2025-12-20", "2026-01-20", "", []string{"LSE", "NYSE"})
	require.NoError(t, err)
	ba, err := r.GetMarketCalendar(ctx, "2025-12-20", "2026-01-20", "", []string{"NYSE", "LSE"})
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestRangeWritesOneBatch(t *testing.T) {
	c := &countingCache{Memory: cache.NewMemory()}
	r := (&fixture{settings: settings(domain.AssetClassForex, "OANDA"), cache: c}).build()
	ctx := context.Background()

	_, err := r.BuildRange(ctx, date(2026, 1, 1), date(2026, 1, 31), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.batches)
	assert.Equal(t, 31, c.batchLen)
	assert.Zero(t, c.sets)

	// Later point lookups are served from the batch.
	res, err := r.Resolve(ctx, domain.Query{Date: date(2026, 1, 3)})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, res.Source)
	assert.False(t, res.Open)
}

func TestRangeMultiVenueWritesOneBatch(t *testing.T) {
	c := &countingCache{Memory: cache.NewMemory()}
	r := (&fixture{settings: settings(domain.AssetClassTraditional, "NYSE"), cache: c}).build()

	_, err := r.BuildRange(context.Background(), date(2026, 1, 1), date(2026, 1, 10), "", []domain.Venue{"NYSE", "LSE"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.batches)
	assert.Equal(t, 20, c.batchLen, "every venue's rows are cached")

	for _, v := range []domain.Venue{"NYSE", "LSE"} {
		got, ok := c.Get(context.Background(), domain.CacheKey(domain.AssetClassTraditional, v, date(2026, 1, 1)))
		assert.True(t, ok, v)
		assert.Equal(t, cache.Closed, got, v)
	}
}

func TestRangeFallbackRowsCachedAsDegraded(t *testing.T) {
	c := cache.NewMemory()
	f := &fixture{
		settings: settings(domain.AssetClassTraditional, "NYSE"),
		provider: sessionDays{err: errors.New("calendar service down")},
		cache:    c,
	}
	r := f.build()
	ctx := context.Background()

	_, err := r.BuildRange(ctx, date(2026, 1, 1), date(2026, 1, 10), "", nil)
	require.NoError(t, err)

	v, ok := c.Get(ctx, domain.CacheKey(domain.AssetClassTraditional, "NYSE", date(2026, 1, 5)))
	require.True(t, ok)
	assert.Equal(t, cache.Degraded, v)

	res, err := r.Resolve(ctx, domain.Query{Date: date(2026, 1, 5)})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, res.Source)
	assert.True(t, res.Degraded)
}

func TestRangePanicFailsOpen(t *testing.T) {
	f := &fixture{settings: settings(domain.AssetClassTraditional, "NYSE"), provider: panicProvider{}}
	r := f.build()

	rows, err := r.BuildRange(context.Background(), date(2026, 1, 1), date(2026, 1, 5), "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.True(t, row.Open)
		assert.True(t, row.Degraded)
	}
	assert.Equal(t, 1, f.alerts.Count(alert.KindCatastrophic))
}

type panicProvider struct{}

func (panicProvider) ValidDays(context.Context, domain.Venue, time.Time, time.Time) ([]time.Time, error) {
	panic("nil calendar")
}

func TestFormatRows(t *testing.T) {
	r := (&fixture{settings: settings(domain.AssetClassForex, "OANDA")}).build()
	rows, err := r.BuildRange(context.Background(), date(2026, 1, 1), date(2026, 1, 2), "", nil)
	require.NoError(t, err)

	out := FormatRows(rows)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2026-01-01  false"))
	assert.True(t, strings.HasPrefix(lines[2], "2026-01-02  true "))
}
