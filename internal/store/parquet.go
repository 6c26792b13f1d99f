package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradingcal/internal/domain"
)

// Compile-time interface checks.
var _ CalendarStore = (*ParquetStore)(nil)

// ParquetStore implements CalendarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CalendarRecord is the Parquet schema for one calendar report row. Session
// bounds are Unix ms and absent for multi-venue reports.
type CalendarRecord struct {
	Label     string `parquet:"label"`
	Date      string `parquet:"date"` // YYYY-MM-DD
	Open      bool   `parquet:"open"`
	OpenTime  *int64 `parquet:"open_time,optional"`
	CloseTime *int64 `parquet:"close_time,optional"`
	Degraded  bool   `parquet:"degraded"`
}

// Label names a report for venues: the venue itself, or the sorted venues
// joined with "+" for an intersection.
func Label(venues []domain.Venue) string {
	names := make([]string, len(venues))
	for i, v := range venues {
		names[i] = string(v)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// ---------------------------------------------------------------------------
// CalendarStore implementation
// ---------------------------------------------------------------------------

// WriteCalendar writes rows to Parquet files organized by label and year,
// merging with rows already on disk. Each label+year produces a file at:
//
//	<DataDir>/calendar/<LABEL>/<YYYY>.parquet
func (s *ParquetStore) WriteCalendar(_ context.Context, label string, rows []domain.CalendarRow) error {
	if len(rows) == 0 {
		return nil
	}

	groups := make(map[int][]CalendarRecord)
	for _, r := range rows {
		y := r.Date.Year()
		groups[y] = append(groups[y], toRecord(label, r))
	}

	for year, records := range groups {
		path := s.calendarPath(label, year)

		existing, _ := readParquetFile[CalendarRecord](path)
		merged := mergeCalendarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing calendar for %s/%d: %w", label, year, err)
		}
	}
	return nil
}

// ReadCalendar reads calendar rows for label within [start, end].
func (s *ParquetStore) ReadCalendar(_ context.Context, label string, start, end time.Time) ([]domain.CalendarRow, error) {
	lo, hi := domain.FormatDate(start), domain.FormatDate(end)

	var rows []domain.CalendarRow
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[CalendarRecord](s.calendarPath(label, year))
		if err != nil {
			// File doesn't exist for this year, skip.
			continue
		}
		for _, r := range records {
			if r.Date < lo || r.Date > hi {
				continue
			}
			row, err := fromRecord(r)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// calendarPath returns the filesystem path for a calendar Parquet file.
// Layout: <dataDir>/calendar/<LABEL>/<YYYY>.parquet
func (s *ParquetStore) calendarPath(label string, year int) string {
	return filepath.Join(s.DataDir, "calendar", strings.ToUpper(label), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func toRecord(label string, r domain.CalendarRow) CalendarRecord {
	rec := CalendarRecord{
		Label:    label,
		Date:     domain.FormatDate(r.Date),
		Open:     r.Open,
		Degraded: r.Degraded,
	}
	if r.OpenTime != nil {
		ms := r.OpenTime.UnixMilli()
		rec.OpenTime = &ms
	}
	if r.CloseTime != nil {
		ms := r.CloseTime.UnixMilli()
		rec.CloseTime = &ms
	}
	return rec
}

func fromRecord(r CalendarRecord) (domain.CalendarRow, error) {
	d, err := time.Parse(domain.DateLayout, r.Date)
	if err != nil {
		return domain.CalendarRow{}, fmt.Errorf("corrupt calendar date %q: %w", r.Date, err)
	}
	row := domain.CalendarRow{Date: d, Open: r.Open, Degraded: r.Degraded}
	if r.OpenTime != nil {
		t := time.UnixMilli(*r.OpenTime).UTC()
		row.OpenTime = &t
	}
	if r.CloseTime != nil {
		t := time.UnixMilli(*r.CloseTime).UTC()
		row.CloseTime = &t
	}
	return row, nil
}

// mergeCalendarRecords deduplicates records by date, preferring new records
// over existing ones. Results are sorted by date.
func mergeCalendarRecords(existing, incoming []CalendarRecord) []CalendarRecord {
	seen := make(map[string]CalendarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]CalendarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
