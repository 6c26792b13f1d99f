package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"tradingcal/internal/domain"
)

// File is the on-disk handler/holiday definition:
//
//	{"asset_handlers": {"forex": "weekday_with_holidays"},
//	 "holidays": {"forex": [[1, 1], [12, 25]]}}
//
// JSON is valid YAML, so both encodings are accepted.
type File struct {
	AssetHandlers map[string]string  `yaml:"asset_handlers"`
	Holidays      map[string][][]int `yaml:"holidays"`
}

// Parse decodes a definition file.
func Parse(data []byte) (*Registry, *HolidayTable, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("decoding holiday file: %w", err)
	}

	handlers := make(map[domain.AssetClass]domain.Policy, len(f.AssetHandlers))
	for class, name := range f.AssetHandlers {
		p, err := domain.ParsePolicy(name)
		if err != nil {
			return nil, nil, fmt.Errorf("asset class %q: %w", class, err)
		}
		handlers[domain.NormalizeAssetClass(class)] = p
	}

	entries := make(map[domain.AssetClass][]domain.HolidayEntry, len(f.Holidays))
	for class, pairs := range f.Holidays {
		list := make([]domain.HolidayEntry, 0, len(pairs))
		for _, pair := range pairs {
			h, err := toEntry(pair)
			if err != nil {
				return nil, nil, fmt.Errorf("holidays for %q: %w", class, err)
			}
			list = append(list, h)
		}
		entries[domain.NormalizeAssetClass(class)] = list
	}

	return NewRegistry(handlers), NewHolidayTable(entries), nil
}

func toEntry(pair []int) (domain.HolidayEntry, error) {
	if len(pair) != 2 {
		return domain.HolidayEntry{}, fmt.Errorf("want [month, day], got %v", pair)
	}
	m, d := pair[0], pair[1]
	if m < 1 || m > 12 {
		return domain.HolidayEntry{}, fmt.Errorf("month %d out of range", m)
	}
	// Feb 29 is allowed; a leap year will match it.
	if d < 1 || d > daysIn(time.Month(m)) {
		return domain.HolidayEntry{}, fmt.Errorf("day %d out of range for month %d", d, m)
	}
	return domain.HolidayEntry{Month: time.Month(m), Day: d}, nil
}

func daysIn(m time.Month) int {
	return time.Date(2024, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Load reads the definition file at path. A missing file falls back to the
// built-in registry and holiday table; any other read or parse failure is
// returned.
func Load(path string, log *slog.Logger) (*Registry, *HolidayTable, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Error("holiday file not found, using defaults", "path", path)
		return DefaultRegistry(), DefaultHolidayTable(), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading holiday file: %w", err)
	}

	reg, table, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if unknown := unknownClasses(reg, table); len(unknown) > 0 {
		log.Warn("holiday file names unknown asset classes", "path", path, "classes", unknown)
	}
	log.Info("loaded holiday file", "path", path, "handlers", len(reg.handlers), "holidays", table.Len())
	return reg, table, nil
}

// unknownClasses lists the classes in reg or table that no known asset class
// matches. They are kept, but no venue setting will ever select them.
func unknownClasses(reg *Registry, table *HolidayTable) []string {
	seen := make(map[domain.AssetClass]bool)
	var out []string
	add := func(c domain.AssetClass) {
		if c.IsValid() || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, string(c))
	}
	for c := range reg.handlers {
		add(c)
	}
	for c := range table.days {
		add(c)
	}
	slices.Sort(out)
	return out
}
