package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradingcal/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradingcal.
type Config struct {
	Market   Market   `yaml:"market"`
	Holidays Holidays `yaml:"holidays"`
	Cache    Cache    `yaml:"cache"`
	Probe    Probe    `yaml:"probe"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
}

// Market holds the process-wide asset class, default venue and timezone.
type Market struct {
	AssetClass string `yaml:"asset_class"`
	Venue      string `yaml:"venue"`
	Timezone   string `yaml:"timezone"`
	// VenueClasses pins individual venues to an asset class, overriding
	// AssetClass for those venues only.
	VenueClasses map[string]string `yaml:"venue_classes"`
}

// Holidays locates the holiday/handler definition file.
type Holidays struct {
	Path string `yaml:"path"`
}

// Cache configures the cache-aside store.
type Cache struct {
	Backend   string        `yaml:"backend"` // redis, memory or none
	RedisURL  string        `yaml:"redis_url"`
	TTL       time.Duration `yaml:"ttl"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// Probe configures live venue status checks.
type Probe struct {
	Timeout         time.Duration `yaml:"timeout"`
	RatePerSec      float64       `yaml:"rate_per_sec"`
	Burst           int           `yaml:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	BinanceURL      string        `yaml:"binance_url"`
	KrakenURL       string        `yaml:"kraken_url"`
	CoinbaseURL     string        `yaml:"coinbase_url"`
	APIKey          string        `yaml:"api_key"`
}

// Alpaca holds credentials and the venues served by the Alpaca calendar.
type Alpaca struct {
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	BaseURL   string        `yaml:"base_url"`
	Venues    []string      `yaml:"venues"`
	Timeout   time.Duration `yaml:"timeout"` // per HTTP request
}

// Storage holds paths for the session store and exports.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// DefaultCacheTTL is how long a resolved day stays cached.
const DefaultCacheTTL = 24 * time.Hour

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Market: Market{
			AssetClass: "crypto",
			Venue:      "Binance",
			Timezone:   "UTC",
		},
		Holidays: Holidays{
			Path: filepath.Join("config", "custom_holidays.json"),
		},
		Cache: Cache{
			Backend:   "redis",
			RedisURL:  "redis://localhost:6379",
			TTL:       DefaultCacheTTL,
			OpTimeout: 500 * time.Millisecond,
		},
		Probe: Probe{
			Timeout:         5 * time.Second,
			RatePerSec:      2,
			Burst:           2,
			BreakerFailures: 3,
			BreakerCooldown: time.Minute,
			BinanceURL:      "https://api.binance.com",
			KrakenURL:       "https://api.kraken.com",
			CoinbaseURL:     "https://status.coinbase.com",
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			Venues:  []string{"NYSE", "NASDAQ", "XNYS", "XNAS", "AMEX", "ARCA"},
			Timeout: 10 * time.Second,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: filepath.Join("data", "sessions.db"),
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (with environment overrides) instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

// UnknownClasses returns the configured asset classes that are not known.
// They are accepted, but resolve through the default calendar policy.
func (m Market) UnknownClasses() []string {
	var pinned []string
	for venue, class := range m.VenueClasses {
		if !domain.NormalizeAssetClass(class).IsValid() {
			pinned = append(pinned, venue+"="+class)
		}
	}
	sort.Strings(pinned)
	if !domain.NormalizeAssetClass(m.AssetClass).IsValid() {
		return append([]string{m.AssetClass}, pinned...)
	}
	return pinned
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Market.Timezone)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXCHANGE_TYPE"); v != "" {
		cfg.Market.AssetClass = strings.ToLower(v)
	}
	if v := os.Getenv("EXCHANGE_NAME"); v != "" {
		cfg.Market.Venue = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		cfg.Market.Timezone = v
	}

	if v := os.Getenv("CONFIG_DIR"); v != "" {
		cfg.Holidays.Path = filepath.Join(v, "custom_holidays.json")
	}

	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}

	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Probe.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take the highest priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
