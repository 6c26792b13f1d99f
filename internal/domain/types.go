// Package domain defines the core types shared by the trading-day resolver:
// asset classes, resolution policies, venues, queries, results and calendar
// rows.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Asset classes
// ---------------------------------------------------------------------------

// AssetClass is the category of instrument traded on a venue. It selects the
// policy used to decide whether a day is open.
type AssetClass string

const (
	AssetClassCrypto      AssetClass = "crypto"
	AssetClassForex       AssetClass = "forex"
	AssetClassTraditional AssetClass = "traditional"
	AssetClassBonds       AssetClass = "bonds"
	AssetClassOptions     AssetClass = "options"
)

// AssetClasses lists every known asset class.
var AssetClasses = []AssetClass{
	AssetClassCrypto,
	AssetClassForex,
	AssetClassTraditional,
	AssetClassBonds,
	AssetClassOptions,
}

// NormalizeAssetClass lower-cases and trims s. Unknown classes are kept as-is
// so that they fall through to the default policy.
func NormalizeAssetClass(s string) AssetClass {
	return AssetClass(strings.ToLower(strings.TrimSpace(s)))
}

// IsValid reports whether c is one of the known asset classes.
func (c AssetClass) IsValid() bool {
	for _, known := range AssetClasses {
		if c == known {
			return true
		}
	}
	return false
}

func (c AssetClass) String() string { return string(c) }

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

// Policy is the open/closed rule applied to an asset class.
type Policy string

const (
	// PolicyAlwaysOpenWithStatus treats the venue as always open unless its
	// live status endpoint reports otherwise.
	PolicyAlwaysOpenWithStatus Policy = "always_open_with_status"
	// PolicyWeekdayWithHolidays closes on weekends and configured holidays.
	PolicyWeekdayWithHolidays Policy = "weekday_with_holidays"
	// PolicyCalendarBased defers to the venue's published session calendar.
	PolicyCalendarBased Policy = "calendar_based"
)

// ParsePolicy maps a configured strategy name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAlwaysOpenWithStatus, PolicyWeekdayWithHolidays, PolicyCalendarBased:
		return p, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

func (p Policy) String() string { return string(p) }

// ---------------------------------------------------------------------------
// Venues
// ---------------------------------------------------------------------------

// Venue identifies a market or exchange. Venues are always upper-case.
type Venue string

// NormalizeVenue trims and upper-cases s.
func NormalizeVenue(s string) Venue {
	return Venue(strings.ToUpper(strings.TrimSpace(s)))
}

// NormalizeVenues normalizes every entry and drops blanks.
func NormalizeVenues(in []string) []Venue {
	out := make([]Venue, 0, len(in))
	for _, s := range in {
		if v := NormalizeVenue(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (v Venue) String() string { return string(v) }

// ---------------------------------------------------------------------------
// Queries and results
// ---------------------------------------------------------------------------

// Query asks whether Date is a trading day. When Venues is non-empty, Venue is
// ignored and the answer is the AND over every listed venue. A zero Date
// means "today" in the configured timezone; an empty Venue means the
// configured default venue.
type Query struct {
	Date   time.Time
	Venue  Venue
	Venues []Venue
}

// Source records which path produced a Resolution.
type Source string

const (
	SourceCache    Source = "cache"
	SourceProbe    Source = "probe"
	SourceHolidays Source = "holidays"
	SourceCalendar Source = "calendar"
	SourceMulti    Source = "multi"
	SourceFallback Source = "fallback"
)

// Resolution is the outcome of a trading-day check. Degraded is set when the
// answer came from the fail-open default instead of an authoritative source.
type Resolution struct {
	Open     bool
	Degraded bool
	Source   Source
	Reason   string
}

// Resolved returns an authoritative resolution.
func Resolved(open bool, src Source) Resolution {
	return Resolution{Open: open, Source: src}
}

// FailOpen returns the open/degraded resolution used whenever a definitive
// answer could not be obtained.
func FailOpen(src Source, reason string) Resolution {
	return Resolution{Open: true, Degraded: true, Source: src, Reason: reason}
}

// CalendarRow is one day of a calendar range report. OpenTime and CloseTime
// are only set for single-venue reports.
type CalendarRow struct {
	Date      time.Time
	Open      bool
	OpenTime  *time.Time
	CloseTime *time.Time
	Degraded  bool
}

// Session is a single published trading session of a venue.
type Session struct {
	Date  time.Time
	Open  time.Time
	Close time.Time
}

// HolidayEntry is a recurring (month, day) closure. It carries no year.
type HolidayEntry struct {
	Month time.Month
	Day   int
}

// ---------------------------------------------------------------------------
// Cache keys
// ---------------------------------------------------------------------------

const cacheKeyPrefix = "trading_day"

// CacheKey builds the deterministic cache key for (class, venue, date).
//
//	trading_day:<class>:<VENUE>:<YYYY-MM-DD>
func CacheKey(class AssetClass, venue Venue, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", cacheKeyPrefix, class, venue, FormatDate(date))
}
