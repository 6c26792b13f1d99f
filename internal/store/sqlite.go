package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradingcal/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ SessionStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	venue    TEXT    NOT NULL,
	day      TEXT    NOT NULL,
	open_at  INTEGER NOT NULL,
	close_at INTEGER NOT NULL,
	PRIMARY KEY (venue, day)
);
CREATE TABLE IF NOT EXISTS calendars (
	venue     TEXT    PRIMARY KEY,
	first_day TEXT    NOT NULL,
	last_day  TEXT    NOT NULL,
	source    TEXT    NOT NULL,
	synced_at INTEGER NOT NULL
);`

// SQLiteStore implements SessionStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// SessionStore implementation
// ---------------------------------------------------------------------------

// UpsertSessions replaces the sessions of venue in [start, end]. Coverage
// stays contiguous: a window that neither overlaps nor touches the existing
// coverage is rejected.
func (s *SQLiteStore) UpsertSessions(ctx context.Context, venue domain.Venue, source string, start, end time.Time, sessions []domain.Session) error {
	start, end = domain.DateOf(start), domain.DateOf(end)
	if end.Before(start) {
		return fmt.Errorf("%w: end before start", domain.ErrInvalidRange)
	}
	for _, ss := range sessions {
		d := domain.DateOf(ss.Date)
		if d.Before(start) || d.After(end) {
			return fmt.Errorf("session %s outside sync window %s..%s",
				domain.FormatDate(d), domain.FormatDate(start), domain.FormatDate(end))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	first, last := start, end
	cov, err := coverage(ctx, tx, venue)
	switch {
	case errors.Is(err, domain.ErrUnknownCalendar):
	case err != nil:
		return err
	default:
		if start.After(cov.LastDay.AddDate(0, 0, 1)) || end.Before(cov.FirstDay.AddDate(0, 0, -1)) {
			return fmt.Errorf("sync window %s..%s leaves a gap in %s coverage %s..%s",
				domain.FormatDate(start), domain.FormatDate(end), venue,
				domain.FormatDate(cov.FirstDay), domain.FormatDate(cov.LastDay))
		}
		if cov.FirstDay.Before(first) {
			first = cov.FirstDay
		}
		if cov.LastDay.After(last) {
			last = cov.LastDay
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE venue = ? AND day >= ? AND day <= ?`,
		string(venue), domain.FormatDate(start), domain.FormatDate(end),
	); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sessions (venue, day, open_at, close_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ss := range sessions {
		if _, err := stmt.ExecContext(ctx,
			string(venue), domain.FormatDate(ss.Date), ss.Open.Unix(), ss.Close.Unix(),
		); err != nil {
			return fmt.Errorf("inserting session %s: %w", domain.FormatDate(ss.Date), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calendars (venue, first_day, last_day, source, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(venue) DO UPDATE SET
			first_day = excluded.first_day,
			last_day  = excluded.last_day,
			source    = excluded.source,
			synced_at = excluded.synced_at`,
		string(venue), domain.FormatDate(first), domain.FormatDate(last), source, s.now().Unix(),
	); err != nil {
		return fmt.Errorf("updating coverage: %w", err)
	}

	return tx.Commit()
}

// ValidDays implements calendar.Provider.
func (s *SQLiteStore) ValidDays(ctx context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, error) {
	cov, err := coverage(ctx, s.db, venue)
	if err != nil {
		return nil, err
	}
	if !cov.Contains(start, end) {
		return nil, fmt.Errorf("%w: %s synced only for %s..%s",
			domain.ErrUnknownCalendar, venue,
			domain.FormatDate(cov.FirstDay), domain.FormatDate(cov.LastDay))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT day FROM sessions WHERE venue = ? AND day >= ? AND day <= ? ORDER BY day`,
		string(venue), domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		t, err := time.Parse(domain.DateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("corrupt session day %q: %w", day, err)
		}
		days = append(days, t)
	}
	return days, rows.Err()
}

// Sessions returns stored sessions of venue within [start, end].
func (s *SQLiteStore) Sessions(ctx context.Context, venue domain.Venue, start, end time.Time) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, open_at, close_at FROM sessions
		 WHERE venue = ? AND day >= ? AND day <= ? ORDER BY day`,
		string(venue), domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var (
			day             string
			openAt, closeAt int64
		)
		if err := rows.Scan(&day, &openAt, &closeAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(domain.DateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("corrupt session day %q: %w", day, err)
		}
		out = append(out, domain.Session{
			Date:  t,
			Open:  time.Unix(openAt, 0).UTC(),
			Close: time.Unix(closeAt, 0).UTC(),
		})
	}
	return out, rows.Err()
}

// Coverage returns the synced window of venue.
func (s *SQLiteStore) Coverage(ctx context.Context, venue domain.Venue) (Coverage, error) {
	return coverage(ctx, s.db, venue)
}

// Venues lists every venue with a synced calendar.
func (s *SQLiteStore) Venues(ctx context.Context) ([]domain.Venue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT venue FROM calendars ORDER BY venue`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Venue
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, domain.Venue(v))
	}
	return out, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func coverage(ctx context.Context, q queryer, venue domain.Venue) (Coverage, error) {
	var (
		first, last, source string
		syncedAt            int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT first_day, last_day, source, synced_at FROM calendars WHERE venue = ?`,
		string(venue),
	).Scan(&first, &last, &source, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Coverage{}, fmt.Errorf("%w: %s not synced", domain.ErrUnknownCalendar, venue)
	}
	if err != nil {
		return Coverage{}, err
	}

	c := Coverage{Venue: venue, Source: source, SyncedAt: time.Unix(syncedAt, 0).UTC()}
	if c.FirstDay, err = time.Parse(domain.DateLayout, first); err != nil {
		return Coverage{}, fmt.Errorf("corrupt coverage for %s: %w", venue, err)
	}
	if c.LastDay, err = time.Parse(domain.DateLayout, last); err != nil {
		return Coverage{}, fmt.Errorf("corrupt coverage for %s: %w", venue, err)
	}
	return c, nil
}
