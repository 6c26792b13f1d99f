package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"tradingcal/internal/alert"
	"tradingcal/internal/cache"
	"tradingcal/internal/calendar"
	"tradingcal/internal/config"
	"tradingcal/internal/metrics"
	"tradingcal/internal/policy"
	"tradingcal/internal/probe"
	"tradingcal/internal/resolver"
	"tradingcal/internal/store"
	"tradingcal/internal/util"
)

const version = "0.1.0"

func main() {
	cfgPath := "config/tradingcal.yaml"
	if p := os.Getenv("TRADINGCAL_CONFIG"); p != "" {
		cfgPath = p
	}

	rootCmd := newRootCmd(&cfgPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfgPath *string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tradingcal",
		Short:        "Resolve whether a date is a trading day for one or more venues",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(cfgPath, "config", *cfgPath, "path to the YAML config file")

	rootCmd.AddCommand(
		isOpenCmd(cfgPath),
		calendarCmd(cfgPath),
		syncSessionsCmd(cfgPath),
		sessionsCmd(cfgPath),
		warmCmd(cfgPath),
		versionCmd(),
	)
	return rootCmd
}

// app is the wired service graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	loc      *time.Location
	resolver *resolver.Resolver
	sessions *store.SQLiteStore
	alpaca   *calendar.AlpacaProvider

	closers []io.Closer
}

// setup loads the configuration and wires the resolver with its cache,
// status probe and calendar chain.
func setup(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	// Command output goes to stdout; logs go to stderr.
	log := util.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)

	if unknown := cfg.Market.UnknownClasses(); len(unknown) > 0 {
		log.Warn("unknown asset class, calendar policy applies", "classes", unknown)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Market.Timezone, err)
	}

	policies, holidays, err := policy.Load(cfg.Holidays.Path, log)
	if err != nil {
		return nil, err
	}

	metrics.Init(nil)
	a := &app{cfg: cfg, log: log, loc: loc}
	alerter := alert.NewLogAlerter(log)

	c := cache.New(ctx, cache.Options{
		Backend:   cfg.Cache.Backend,
		RedisURL:  cfg.Cache.RedisURL,
		OpTimeout: cfg.Cache.OpTimeout,
	}, log)
	if closer, ok := c.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	registry := probe.DefaultRegistry(probe.Endpoints{
		Binance:       cfg.Probe.BinanceURL,
		Kraken:        cfg.Probe.KrakenURL,
		Coinbase:      cfg.Probe.CoinbaseURL,
		BinanceAPIKey: cfg.Probe.APIKey,
	}, &http.Client{Timeout: cfg.Probe.Timeout})
	prober := probe.New(registry, probe.Options{
		Timeout:         cfg.Probe.Timeout,
		RatePerSec:      cfg.Probe.RatePerSec,
		Burst:           cfg.Probe.Burst,
		BreakerFailures: cfg.Probe.BreakerFailures,
		BreakerCooldown: cfg.Probe.BreakerCooldown,
	}, alerter, log)

	// Synced sessions take precedence over the live Alpaca calendar.
	var chain calendar.Chain
	if cfg.Storage.SQLitePath != "" {
		if s, err := openSessionStore(cfg.Storage.SQLitePath); err != nil {
			log.Error("session store unavailable", "path", cfg.Storage.SQLitePath, "error", err)
		} else {
			a.sessions = s
			a.closers = append(a.closers, s)
			chain = append(chain, s)
		}
	}
	if cfg.Alpaca.APIKey != "" {
		client := calendar.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.Timeout)
		p, err := calendar.NewAlpacaProvider(client, cfg.Alpaca.Venues, log)
		if err != nil {
			return nil, err
		}
		a.alpaca = p
		chain = append(chain, p)
	} else {
		log.Warn("alpaca credentials not set, live exchange calendar disabled")
	}

	a.resolver = resolver.New(resolver.Deps{
		Settings: config.NewEnvSource(cfg.Market),
		Policies: policies,
		Holidays: holidays,
		Probe:    prober,
		Calendar: calendar.NewLookup(chain, alerter, log),
		Cache:    c,
		TTL:      cfg.Cache.TTL,
		Location: loc,
		Alerter:  alerter,
		Log:      log,
	})
	return a, nil
}

func openSessionStore(path string) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating session store dir: %w", err)
	}
	return store.NewSQLiteStore(path)
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}
