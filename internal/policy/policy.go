// Package policy maps asset classes to open/closed rules and holds the
// recurring holiday table used by the weekday rule.
package policy

import (
	"time"

	"tradingcal/internal/domain"
)

// Registry maps an asset class to its resolution policy. It is built once at
// startup and never mutated afterwards.
type Registry struct {
	handlers map[domain.AssetClass]domain.Policy
}

// NewRegistry copies handlers into a new Registry.
func NewRegistry(handlers map[domain.AssetClass]domain.Policy) *Registry {
	m := make(map[domain.AssetClass]domain.Policy, len(handlers))
	for k, v := range handlers {
		m[k] = v
	}
	return &Registry{handlers: m}
}

// DefaultRegistry returns the built-in asset class handlers.
func DefaultRegistry() *Registry {
	return NewRegistry(map[domain.AssetClass]domain.Policy{
		domain.AssetClassCrypto:      domain.PolicyAlwaysOpenWithStatus,
		domain.AssetClassForex:       domain.PolicyWeekdayWithHolidays,
		domain.AssetClassTraditional: domain.PolicyCalendarBased,
		domain.AssetClassBonds:       domain.PolicyCalendarBased,
		domain.AssetClassOptions:     domain.PolicyCalendarBased,
	})
}

// Resolve returns the policy for class. Unknown classes use the calendar.
func (r *Registry) Resolve(class domain.AssetClass) domain.Policy {
	if p, ok := r.handlers[class]; ok {
		return p
	}
	return domain.PolicyCalendarBased
}

// HolidayTable holds recurring (month, day) closures per asset class.
type HolidayTable struct {
	days map[domain.AssetClass]map[domain.HolidayEntry]struct{}
}

// NewHolidayTable builds a table from per-class holiday lists.
func NewHolidayTable(entries map[domain.AssetClass][]domain.HolidayEntry) *HolidayTable {
	days := make(map[domain.AssetClass]map[domain.HolidayEntry]struct{}, len(entries))
	for class, list := range entries {
		set := make(map[domain.HolidayEntry]struct{}, len(list))
		for _, h := range list {
			set[h] = struct{}{}
		}
		days[class] = set
	}
	return &HolidayTable{days: days}
}

// DefaultHolidayTable returns the built-in table: New Year's Day, Christmas
// and Boxing Day for forex.
func DefaultHolidayTable() *HolidayTable {
	return NewHolidayTable(map[domain.AssetClass][]domain.HolidayEntry{
		domain.AssetClassForex: {
			{Month: time.January, Day: 1},
			{Month: time.December, Day: 25},
			{Month: time.December, Day: 26},
		},
	})
}

// IsHoliday reports whether date's (month, day) is a holiday for class.
func (t *HolidayTable) IsHoliday(date time.Time, class domain.AssetClass) bool {
	_, ok := t.days[class][domain.HolidayEntry{Month: date.Month(), Day: date.Day()}]
	return ok
}

// IsOpen applies the weekday rule: closed on weekends and holidays, open
// otherwise.
func (t *HolidayTable) IsOpen(date time.Time, class domain.AssetClass) bool {
	return !domain.IsWeekend(date) && !t.IsHoliday(date, class)
}

// Len returns the number of holidays configured across all classes.
func (t *HolidayTable) Len() int {
	n := 0
	for _, set := range t.days {
		n += len(set)
	}
	return n
}
