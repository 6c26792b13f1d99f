package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"tradingcal/internal/domain"
	"tradingcal/internal/util"
)

// CalendarClient is the subset of the Alpaca trading client used here.
type CalendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewAlpacaClient builds an Alpaca trading client whose requests give up
// after timeout. The client takes no context, so this bounds every call.
func NewAlpacaClient(apiKey, apiSecret, baseURL string, timeout time.Duration) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	})
}

// transient reports whether a failed calendar request is worth repeating.
// Client errors other than rate limiting will fail the same way again.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusTooManyRequests || code < 400 || code >= 500
	}
	return true
}

// AlpacaProvider serves the US equity session calendar for a fixed set of
// venue ids. Session times are published in America/New_York.
type AlpacaProvider struct {
	client   CalendarClient
	venues   map[domain.Venue]bool
	loc      *time.Location
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// NewAlpacaProvider creates a provider answering for venues.
func NewAlpacaProvider(client CalendarClient, venues []string, log *slog.Logger) (*AlpacaProvider, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	set := make(map[domain.Venue]bool, len(venues))
	for _, v := range domain.NormalizeVenues(venues) {
		set[v] = true
	}
	return &AlpacaProvider{
		client:   client,
		venues:   set,
		loc:      et,
		attempts: 3,
		backoff:  500 * time.Millisecond,
		log:      log.With("component", "alpaca-calendar"),
	}, nil
}

// Serves reports whether venue is answered by this provider.
func (p *AlpacaProvider) Serves(venue domain.Venue) bool {
	return p.venues[venue]
}

// ValidDays implements Provider.
func (p *AlpacaProvider) ValidDays(ctx context.Context, venue domain.Venue, start, end time.Time) ([]time.Time, error) {
	cal, err := p.fetch(ctx, venue, start, end)
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(cal))
	for _, day := range cal {
		t, err := time.Parse(domain.DateLayout, day.Date)
		if err != nil {
			p.log.Warn("skipping malformed calendar date", "date", day.Date)
			continue
		}
		days = append(days, t)
	}
	return days, nil
}

// Sessions returns the published sessions of venue in [start, end] with open
// and close instants resolved in America/New_York.
func (p *AlpacaProvider) Sessions(ctx context.Context, venue domain.Venue, start, end time.Time) ([]domain.Session, error) {
	cal, err := p.fetch(ctx, venue, start, end)
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(cal))
	for _, day := range cal {
		s, err := p.session(day)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (p *AlpacaProvider) fetch(ctx context.Context, venue domain.Venue, start, end time.Time) ([]alpaca.CalendarDay, error) {
	if !p.venues[venue] {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCalendar, venue)
	}
	start, end = domain.DateOf(start), domain.DateOf(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end before start", domain.ErrInvalidRange)
	}

	var cal []alpaca.CalendarDay
	err := util.Retry(ctx, p.attempts, p.backoff, transient, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		cal, err = p.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar %s: %w", venue, err)
	}

	// The API is inclusive, but guard against a looser server.
	lo, hi := domain.FormatDate(start), domain.FormatDate(end)
	out := cal[:0]
	for _, day := range cal {
		if day.Date >= lo && day.Date <= hi {
			out = append(out, day)
		}
	}
	return out, nil
}

func (p *AlpacaProvider) session(day alpaca.CalendarDay) (domain.Session, error) {
	date, err := time.Parse(domain.DateLayout, day.Date)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parsing calendar date %q: %w", day.Date, err)
	}
	open, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+day.Open, p.loc)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parsing open %q on %s: %w", day.Open, day.Date, err)
	}
	closeAt, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+day.Close, p.loc)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parsing close %q on %s: %w", day.Close, day.Date, err)
	}
	return domain.Session{Date: date, Open: open, Close: closeAt}, nil
}
