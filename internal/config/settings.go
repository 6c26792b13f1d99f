package config

import (
	"os"
	"strings"

	"tradingcal/internal/domain"
)

// Settings is a point-in-time snapshot of the values the resolver reads on
// every call.
type Settings struct {
	AssetClass   domain.AssetClass
	Venue        domain.Venue
	VenueClasses map[domain.Venue]domain.AssetClass
}

// ClassFor returns the asset class that applies to venue.
func (s Settings) ClassFor(venue domain.Venue) domain.AssetClass {
	if c, ok := s.VenueClasses[venue]; ok {
		return c
	}
	return s.AssetClass
}

// NewSettings builds a snapshot from the market section of a config.
func NewSettings(m Market) Settings {
	classes := make(map[domain.Venue]domain.AssetClass, len(m.VenueClasses))
	for venue, class := range m.VenueClasses {
		classes[domain.NormalizeVenue(venue)] = domain.NormalizeAssetClass(class)
	}
	return Settings{
		AssetClass:   domain.NormalizeAssetClass(m.AssetClass),
		Venue:        domain.NormalizeVenue(m.Venue),
		VenueClasses: classes,
	}
}

// StaticSource always returns the same settings.
type StaticSource struct {
	settings Settings
}

// NewStaticSource wraps s.
func NewStaticSource(s Settings) *StaticSource {
	return &StaticSource{settings: s}
}

// Current returns the wrapped settings.
func (s *StaticSource) Current() Settings { return s.settings }

// EnvSource re-reads EXCHANGE_TYPE and EXCHANGE_NAME on every call so that
// operators can switch asset class or default venue without a restart. The
// YAML market section supplies the baseline.
type EnvSource struct {
	base Settings
}

// NewEnvSource creates an EnvSource over the given market section.
func NewEnvSource(m Market) *EnvSource {
	return &EnvSource{base: NewSettings(m)}
}

// Current returns a fresh snapshot.
func (s *EnvSource) Current() Settings {
	out := s.base
	if v := strings.TrimSpace(os.Getenv("EXCHANGE_TYPE")); v != "" {
		out.AssetClass = domain.NormalizeAssetClass(v)
	}
	if v := strings.TrimSpace(os.Getenv("EXCHANGE_NAME")); v != "" {
		out.Venue = domain.NormalizeVenue(v)
	}
	return out
}
