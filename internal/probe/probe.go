package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"tradingcal/internal/alert"
	"tradingcal/internal/domain"
	"tradingcal/internal/metrics"
	"tradingcal/internal/util"
)

// Options tunes the prober. Zero values take defaults.
type Options struct {
	Timeout         time.Duration
	RatePerSec      float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
	return o
}

// Prober answers "is this venue up" from live status endpoints. It never
// reports closed because of its own failure: errors, timeouts, throttling and
// an open breaker all resolve to open with Degraded set.
type Prober struct {
	registry *Registry
	opts     Options
	limiter  *util.KeyedLimiter
	alerter  alert.Alerter
	log      *slog.Logger

	mu       sync.Mutex
	breakers map[domain.Venue]*gobreaker.CircuitBreaker
}

// New creates a Prober. A nil alerter logs alerts through log.
func New(registry *Registry, opts Options, alerter alert.Alerter, log *slog.Logger) *Prober {
	opts = opts.withDefaults()
	log = log.With("component", "probe")
	if alerter == nil {
		alerter = alert.NewLogAlerter(log)
	}
	return &Prober{
		registry: registry,
		opts:     opts,
		limiter:  util.NewKeyedLimiter(opts.RatePerSec, opts.Burst),
		alerter:  alerter,
		log:      log,
		breakers: make(map[domain.Venue]*gobreaker.CircuitBreaker),
	}
}

// IsOpen probes venue. The result is authoritative only when the venue's
// status endpoint answered.
func (p *Prober) IsOpen(ctx context.Context, venue domain.Venue) domain.Resolution {
	a, ok := p.registry.Lookup(venue)
	if !ok || !a.HasStatus() {
		metrics.IncProbe(string(venue), "unsupported")
		p.log.Debug("venue has no status capability, assuming open", "venue", venue)
		return domain.FailOpen(domain.SourceProbe, "no status capability")
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx, string(venue)); err != nil {
		metrics.IncProbe(string(venue), "rate_limited")
		p.log.Warn("probe throttled, assuming open", "venue", venue, "error", err)
		return domain.FailOpen(domain.SourceProbe, "rate limited")
	}

	start := time.Now()
	v, err := p.breaker(venue).Execute(func() (interface{}, error) {
		return a.FetchStatus(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.IncProbe(string(venue), "breaker_open")
		p.log.Debug("probe breaker open, assuming open", "venue", venue)
		return domain.FailOpen(domain.SourceProbe, "circuit open")
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", domain.ErrProbe, venue, err)
		metrics.IncProbe(string(venue), "error")
		p.log.Warn("status probe failed, assuming open",
			"venue", venue,
			"elapsed", time.Since(start),
			"error", err,
		)
		p.alerter.Alert(ctx, alert.New(alert.KindProbeFailure, string(venue), err.Error()))
		return domain.FailOpen(domain.SourceProbe, err.Error())
	}

	st := v.(MachineStatus)
	if st.OK {
		metrics.IncProbe(string(venue), "ok")
	} else {
		metrics.IncProbe(string(venue), "not_ok")
		p.log.Info("venue reports degraded status", "venue", venue, "status", st.Raw)
	}
	return domain.Resolved(st.OK, domain.SourceProbe)
}

// breaker returns the circuit breaker for venue, creating it on first use.
func (p *Prober) breaker(venue domain.Venue) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[venue]; ok {
		return cb
	}
	failures := p.opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "probe:" + string(venue),
		MaxRequests: 1,
		Timeout:     p.opts.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("probe breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	p.breakers[venue] = cb
	return cb
}
