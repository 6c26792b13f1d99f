package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tradingcal/internal/domain"
	"tradingcal/internal/resolver"
	"tradingcal/internal/store"
)

func isOpenCmd(cfgPath *string) *cobra.Command {
	var (
		date, venue string
		venues      []string
		detail      bool
	)
	cmd := &cobra.Command{
		Use:   "is-open",
		Short: "Report whether a date is a trading day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			q := domain.Query{
				Venue:  domain.NormalizeVenue(venue),
				Venues: domain.NormalizeVenues(venues),
			}
			if date != "" {
				if q.Date, err = domain.ParseDate(date); err != nil {
					return err
				}
			}
			res, err := a.resolver.Resolve(ctx, q)
			if err != nil {
				return err
			}

			state := "closed"
			if res.Open {
				state = "open"
			}
			if !detail {
				fmt.Fprintln(cmd.OutOrStdout(), state)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s source=%s degraded=%t", state, res.Source, res.Degraded)
			if res.Reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " reason=%q", res.Reason)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default today in the configured timezone)")
	cmd.Flags().StringVar(&venue, "venue", "", "venue to check (default the configured venue)")
	cmd.Flags().StringSliceVar(&venues, "venues", nil, "comma-separated venues that must all be open")
	cmd.Flags().BoolVar(&detail, "detail", false, "print the source and degraded flag")
	return cmd
}

func calendarCmd(cfgPath *string) *cobra.Command {
	var (
		start, end, venue     string
		venues                []string
		export, color, stored bool
	)
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print the trading calendar for a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var rows []domain.CalendarRow
			if stored {
				if export {
					return errors.New("--from-export and --export cannot be combined")
				}
				rows, err = a.readExport(ctx, start, end, venue, venues)
			} else {
				rows, err = a.resolver.GetMarketCalendar(ctx, start, end, venue, venues)
			}
			if err != nil {
				return err
			}
			if color {
				fmt.Fprint(cmd.OutOrStdout(), styledRows(rows))
			} else {
				fmt.Fprint(cmd.OutOrStdout(), resolver.FormatRows(rows))
			}

			if !export {
				return nil
			}
			label := store.Label(exportVenues(a, venue, venues))
			ps := store.NewParquetStore(a.cfg.Storage.DataDir)
			if err := ps.WriteCalendar(ctx, label, rows); err != nil {
				return fmt.Errorf("exporting calendar: %w", err)
			}
			a.log.Info("exported calendar", "label", label, "rows", len(rows), "dir", a.cfg.Storage.DataDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date as YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last date as YYYY-MM-DD")
	cmd.Flags().StringVar(&venue, "venue", "", "venue (default the configured venue)")
	cmd.Flags().StringSliceVar(&venues, "venues", nil, "comma-separated venues ANDed per day")
	cmd.Flags().BoolVar(&export, "export", false, "also write the rows to the parquet data dir")
	cmd.Flags().BoolVar(&color, "color", false, "render a coloured table for the terminal")
	cmd.Flags().BoolVar(&stored, "from-export", false, "print previously exported rows instead of resolving")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func syncSessionsCmd(cfgPath *string) *cobra.Command {
	var (
		start, end string
		venues     []string
	)
	cmd := &cobra.Command{
		Use:   "sync-sessions",
		Short: "Copy exchange sessions from Alpaca into the local session store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.alpaca == nil {
				return errors.New("alpaca credentials are required to sync sessions")
			}
			if a.sessions == nil {
				return errors.New("session store is not available")
			}
			s, err := domain.ParseDate(start)
			if err != nil {
				return err
			}
			e, err := domain.ParseDate(end)
			if err != nil {
				return err
			}
			if e.Before(s) {
				return fmt.Errorf("end %s is before start %s", end, start)
			}

			targets := domain.NormalizeVenues(venues)
			if len(targets) == 0 {
				targets = domain.NormalizeVenues(a.cfg.Alpaca.Venues)
			}
			for _, v := range targets {
				if !a.alpaca.Serves(v) {
					return fmt.Errorf("%w: %s is not an Alpaca venue", domain.ErrUnknownCalendar, v)
				}
			}
			for _, v := range targets {
				sessions, err := a.alpaca.Sessions(ctx, v, s, e)
				if err != nil {
					return fmt.Errorf("fetching %s sessions: %w", v, err)
				}
				if err := a.sessions.UpsertSessions(ctx, v, "alpaca", s, e, sessions); err != nil {
					return fmt.Errorf("storing %s sessions: %w", v, err)
				}
				a.log.Info("synced sessions", "venue", v, "start", start, "end", end, "sessions", len(sessions))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date as YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last date as YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&venues, "venues", nil, "venues to sync (default the configured Alpaca venues)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func sessionsCmd(cfgPath *string) *cobra.Command {
	var start, end, venue string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show synced venues, or the stored sessions of one venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.sessions == nil {
				return errors.New("session store is not available")
			}
			out := cmd.OutOrStdout()

			v := domain.NormalizeVenue(venue)
			if v == "" {
				venues, err := a.sessions.Venues(ctx)
				if err != nil {
					return fmt.Errorf("listing synced venues: %w", err)
				}
				fmt.Fprintf(out, "%-8s  %-10s  %-10s  %-8s  %s\n", "venue", "first", "last", "source", "synced")
				for _, v := range venues {
					c, err := a.sessions.Coverage(ctx, v)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%-8s  %-10s  %-10s  %-8s  %s\n", c.Venue, domain.FormatDate(c.FirstDay),
						domain.FormatDate(c.LastDay), c.Source, c.SyncedAt.In(a.loc).Format(time.RFC3339))
				}
				return nil
			}

			c, err := a.sessions.Coverage(ctx, v)
			if err != nil {
				return err
			}
			s, e := c.FirstDay, c.LastDay
			if start != "" {
				if s, err = domain.ParseDate(start); err != nil {
					return err
				}
			}
			if end != "" {
				if e, err = domain.ParseDate(end); err != nil {
					return err
				}
			}
			sessions, err := a.sessions.Sessions(ctx, v, s, e)
			if err != nil {
				return fmt.Errorf("reading %s sessions: %w", v, err)
			}
			for _, sess := range sessions {
				fmt.Fprintf(out, "%s  %s\n", domain.FormatDate(sess.Date), sessionSpan(inLoc(sess.Open, a.loc), inLoc(sess.Close, a.loc)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", "venue whose sessions to print (default list synced venues)")
	cmd.Flags().StringVar(&start, "start", "", "first date as YYYY-MM-DD (default start of coverage)")
	cmd.Flags().StringVar(&end, "end", "", "last date as YYYY-MM-DD (default end of coverage)")
	return cmd
}

func inLoc(t time.Time, loc *time.Location) *time.Time {
	t = t.In(loc)
	return &t
}

func warmCmd(cfgPath *string) *cobra.Command {
	var (
		interval    time.Duration
		days        int
		venues      []string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Keep the cache filled with the upcoming calendar and serve metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.log.Info("metrics server listening", "addr", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			targets := domain.NormalizeVenues(venues)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				a.warm(ctx, targets, days)
				select {
				case <-ctx.Done():
					a.log.Info("warm loop stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "time between refreshes")
	cmd.Flags().IntVar(&days, "days", 30, "number of upcoming days to cache")
	cmd.Flags().StringSliceVar(&venues, "venues", nil, "venues to warm (default the configured venue)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "address of the Prometheus endpoint, empty to disable")
	return cmd
}

// warm builds the upcoming range for each venue separately so that every
// venue's own rows land in the cache.
func (a *app) warm(ctx context.Context, venues []domain.Venue, days int) {
	start := domain.Today(time.Now(), a.loc)
	end := start.AddDate(0, 0, max(days, 1)-1)
	if len(venues) == 0 {
		venues = []domain.Venue{""}
	}
	for _, v := range venues {
		// Range rows of always-open venues are assumed open and would mask
		// the live status check for today.
		if a.resolver.PolicyFor(v) == domain.PolicyAlwaysOpenWithStatus {
			a.log.Debug("skipping status-probed venue", "venue", v)
			continue
		}
		rows, err := a.resolver.BuildRange(ctx, start, end, v, nil)
		if err != nil {
			a.log.Error("warming cache failed", "venue", v, "error", err)
			continue
		}
		a.log.Info("warmed cache", "venue", v, "days", len(rows))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradingcal %s\n", version)
		},
	}
}

// readExport loads rows written by an earlier "calendar --export".
func (a *app) readExport(ctx context.Context, start, end, venue string, venues []string) ([]domain.CalendarRow, error) {
	s, err := domain.ParseDate(start)
	if err != nil {
		return nil, err
	}
	e, err := domain.ParseDate(end)
	if err != nil {
		return nil, err
	}
	if e.Before(s) {
		return nil, fmt.Errorf("%w: end %s is before start %s", domain.ErrInvalidRange, end, start)
	}
	label := store.Label(exportVenues(a, venue, venues))
	ps := store.NewParquetStore(a.cfg.Storage.DataDir)
	rows, err := ps.ReadCalendar(ctx, label, s, e)
	if err != nil {
		return nil, fmt.Errorf("reading exported calendar %s: %w", label, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no exported rows for %s between %s and %s", label, start, end)
	}
	// Session bounds are stored as UTC instants.
	for i := range rows {
		if rows[i].OpenTime != nil {
			rows[i].OpenTime = inLoc(*rows[i].OpenTime, a.loc)
		}
		if rows[i].CloseTime != nil {
			rows[i].CloseTime = inLoc(*rows[i].CloseTime, a.loc)
		}
	}
	return rows, nil
}

// exportVenues names the venues behind an exported table.
func exportVenues(a *app, venue string, venues []string) []domain.Venue {
	if vs := domain.NormalizeVenues(venues); len(vs) > 0 {
		return vs
	}
	if v := domain.NormalizeVenue(venue); v != "" {
		return []domain.Venue{v}
	}
	return []domain.Venue{domain.NormalizeVenue(a.cfg.Market.Venue)}
}
