package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tradingcal/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func session(y int, m time.Month, d int) domain.Session {
	return domain.Session{
		Date:  day(y, m, d),
		Open:  time.Date(y, m, d, 14, 30, 0, 0, time.UTC),
		Close: time.Date(y, m, d, 21, 0, 0, 0, time.UTC),
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.calendarPath("nyse", 2026)
	want := filepath.Join("/data", "calendar", "NYSE", "2026.parquet")
	if got != want {
		t.Errorf("calendarPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestLabel(t *testing.T) {
	if got := Label([]domain.Venue{"NYSE"}); got != "NYSE" {
		t.Errorf("Label single = %q, want NYSE", got)
	}
	if got := Label([]domain.Venue{"NYSE", "BINANCE"}); got != "BINANCE+NYSE" {
		t.Errorf("Label multi = %q, want BINANCE+NYSE", got)
	}
}

func TestParquetStoreWriteReadCalendar(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	open := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	closeAt := time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC)
	rows := []domain.CalendarRow{
		{Date: day(2025, 12, 31), Open: true},
		{Date: day(2026, 1, 1), Open: false},
		{Date: day(2026, 1, 2), Open: true, OpenTime: &open, CloseTime: &closeAt},
		{Date: day(2026, 1, 3), Open: true, Degraded: true},
	}
	if err := ps.WriteCalendar(ctx, "NYSE", rows); err != nil {
		t.Fatalf("WriteCalendar: %v", err)
	}

	got, err := ps.ReadCalendar(ctx, "NYSE", day(2026, 1, 1), day(2026, 1, 2))
	if err != nil {
		t.Fatalf("ReadCalendar: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadCalendar returned %d rows, want 2", len(got))
	}
	if got[0].Open || got[0].OpenTime != nil {
		t.Errorf("2026-01-01 = %+v, want closed without session bounds", got[0])
	}
	if !got[1].Open || got[1].OpenTime == nil || !got[1].OpenTime.Equal(open) {
		t.Errorf("2026-01-02 open time = %v, want %v", got[1].OpenTime, open)
	}
	if got[1].CloseTime == nil || !got[1].CloseTime.Equal(closeAt) {
		t.Errorf("2026-01-02 close time = %v, want %v", got[1].CloseTime, closeAt)
	}

	all, err := ps.ReadCalendar(ctx, "NYSE", day(2025, 1, 1), day(2026, 12, 31))
	if err != nil {
		t.Fatalf("ReadCalendar across years: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ReadCalendar across years returned %d rows, want 4", len(all))
	}
	if !all[3].Degraded {
		t.Errorf("degraded flag lost: %+v", all[3])
	}
}

func TestParquetStoreMergeCalendar(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := []domain.CalendarRow{
		{Date: day(2026, 3, 2), Open: true, Degraded: true},
		{Date: day(2026, 3, 3), Open: true},
	}
	if err := ps.WriteCalendar(ctx, "NYSE", first); err != nil {
		t.Fatalf("WriteCalendar (first): %v", err)
	}

	// Overlapping write: 3/2 is replaced, 3/4 is added.
	second := []domain.CalendarRow{
		{Date: day(2026, 3, 2), Open: true},
		{Date: day(2026, 3, 4), Open: false},
	}
	if err := ps.WriteCalendar(ctx, "NYSE", second); err != nil {
		t.Fatalf("WriteCalendar (second): %v", err)
	}

	got, err := ps.ReadCalendar(ctx, "NYSE", day(2026, 1, 1), day(2026, 12, 31))
	if err != nil {
		t.Fatalf("ReadCalendar: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadCalendar returned %d rows after merge, want 3", len(got))
	}
	if got[0].Degraded {
		t.Errorf("merged row should prefer the newer write: %+v", got[0])
	}
	if !got[2].Date.Equal(day(2026, 3, 4)) {
		t.Errorf("rows not sorted by date: %+v", got)
	}
}

func TestParquetStoreReadMissing(t *testing.T) {
	ps := NewParquetStore(t.TempDir())

	got, err := ps.ReadCalendar(context.Background(), "XTKS", day(2026, 1, 1), day(2026, 12, 31))
	if err != nil {
		t.Fatalf("ReadCalendar: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadCalendar on empty store returned %d rows", len(got))
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)

	// Verify the store is usable by pinging the database.
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreUnsyncedVenue(t *testing.T) {
	s := openSQLite(t)

	_, err := s.ValidDays(context.Background(), "NYSE", day(2026, 1, 1), day(2026, 1, 1))
	if !errors.Is(err, domain.ErrUnknownCalendar) {
		t.Fatalf("ValidDays on unsynced venue: err = %v, want ErrUnknownCalendar", err)
	}
}

func TestSQLiteStoreSessions(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	// New Year's Day (Thursday) and the weekend are closed.
	sessions := []domain.Session{session(2025, 12, 31), session(2026, 1, 2), session(2026, 1, 5)}
	if err := s.UpsertSessions(ctx, "NYSE", "alpaca", day(2025, 12, 29), day(2026, 1, 9), sessions); err != nil {
		t.Fatalf("UpsertSessions: %v", err)
	}

	days, err := s.ValidDays(ctx, "NYSE", day(2026, 1, 1), day(2026, 1, 4))
	if err != nil {
		t.Fatalf("ValidDays: %v", err)
	}
	if len(days) != 1 || !days[0].Equal(day(2026, 1, 2)) {
		t.Errorf("ValidDays = %v, want [2026-01-02]", days)
	}

	got, err := s.Sessions(ctx, "NYSE", day(2026, 1, 2), day(2026, 1, 2))
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(got) != 1 || !got[0].Open.Equal(sessions[1].Open) || !got[0].Close.Equal(sessions[1].Close) {
		t.Errorf("Sessions = %+v, want %+v", got, sessions[1])
	}

	// Outside coverage the calendar is unknown, not closed.
	_, err = s.ValidDays(ctx, "NYSE", day(2026, 1, 9), day(2026, 1, 12))
	if !errors.Is(err, domain.ErrUnknownCalendar) {
		t.Errorf("ValidDays beyond coverage: err = %v, want ErrUnknownCalendar", err)
	}
}

func TestSQLiteStoreCoverageExtends(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	if err := s.UpsertSessions(ctx, "NYSE", "alpaca", day(2026, 1, 1), day(2026, 1, 31), nil); err != nil {
		t.Fatalf("UpsertSessions (jan): %v", err)
	}
	if err := s.UpsertSessions(ctx, "NYSE", "alpaca", day(2026, 2, 1), day(2026, 2, 28), []domain.Session{session(2026, 2, 2)}); err != nil {
		t.Fatalf("UpsertSessions (feb): %v", err)
	}

	cov, err := s.Coverage(ctx, "NYSE")
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if !cov.FirstDay.Equal(day(2026, 1, 1)) || !cov.LastDay.Equal(day(2026, 2, 28)) {
		t.Errorf("Coverage = %s..%s, want 2026-01-01..2026-02-28",
			domain.FormatDate(cov.FirstDay), domain.FormatDate(cov.LastDay))
	}
	if cov.Source != "alpaca" {
		t.Errorf("Coverage.Source = %q, want alpaca", cov.Source)
	}

	// A disjoint window would leave a gap.
	err = s.UpsertSessions(ctx, "NYSE", "alpaca", day(2026, 6, 1), day(2026, 6, 30), nil)
	if err == nil {
		t.Errorf("UpsertSessions with a gap should fail")
	}

	venues, err := s.Venues(ctx)
	if err != nil {
		t.Fatalf("Venues: %v", err)
	}
	if len(venues) != 1 || venues[0] != "NYSE" {
		t.Errorf("Venues = %v, want [NYSE]", venues)
	}
}

func TestSQLiteStoreResyncReplaces(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	if err := s.UpsertSessions(ctx, "NYSE", "alpaca", day(2026, 1, 5), day(2026, 1, 9),
		[]domain.Session{session(2026, 1, 5), session(2026, 1, 6)}); err != nil {
		t.Fatalf("UpsertSessions: %v", err)
	}
	// An unscheduled closure on the 6th.
	if err := s.UpsertSessions(ctx, "NYSE", "alpaca", day(2026, 1, 5), day(2026, 1, 9),
		[]domain.Session{session(2026, 1, 5)}); err != nil {
		t.Fatalf("UpsertSessions (resync): %v", err)
	}

	days, err := s.ValidDays(ctx, "NYSE", day(2026, 1, 5), day(2026, 1, 9))
	if err != nil {
		t.Fatalf("ValidDays: %v", err)
	}
	if len(days) != 1 {
		t.Errorf("ValidDays after resync = %v, want only 2026-01-05", days)
	}
}

func TestSQLiteStoreRejectsSessionOutsideWindow(t *testing.T) {
	s := openSQLite(t)

	err := s.UpsertSessions(context.Background(), "NYSE", "alpaca", day(2026, 1, 5), day(2026, 1, 9),
		[]domain.Session{session(2026, 1, 12)})
	if err == nil {
		t.Fatal("UpsertSessions should reject a session outside its window")
	}
}

func TestCoverageContains(t *testing.T) {
	c := Coverage{FirstDay: day(2026, 1, 1), LastDay: day(2026, 1, 31)}

	if !c.Contains(day(2026, 1, 1), day(2026, 1, 31)) {
		t.Error("window equal to coverage should be contained")
	}
	if c.Contains(day(2025, 12, 31), day(2026, 1, 2)) {
		t.Error("window starting before coverage should not be contained")
	}
}
