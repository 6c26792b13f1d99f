// Package alert delivers operator alerts raised when the resolver falls back
// to its fail-open default.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradingcal/internal/metrics"
)

// Kind classifies an alert.
type Kind string

const (
	KindProbeFailure    Kind = "probe_failure"
	KindCalendarFailure Kind = "calendar_failure"
	KindCatastrophic    Kind = "catastrophic"
)

// Alert is a single operator notification.
type Alert struct {
	ID      uuid.UUID
	Kind    Kind
	Venue   string
	Message string
	Time    time.Time
}

// Alerter receives alerts. Implementations must not block for long.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// New fills in the id and timestamp of an alert.
func New(kind Kind, venue, message string) Alert {
	return Alert{
		ID:      uuid.New(),
		Kind:    kind,
		Venue:   venue,
		Message: message,
		Time:    time.Now().UTC(),
	}
}

// LogAlerter writes alerts to a structured logger at WARN.
type LogAlerter struct {
	log *slog.Logger
}

// NewLogAlerter creates a LogAlerter.
func NewLogAlerter(log *slog.Logger) *LogAlerter {
	return &LogAlerter{log: log.With("component", "alert")}
}

// Alert logs a.
func (l *LogAlerter) Alert(ctx context.Context, a Alert) {
	metrics.IncAlert(string(a.Kind))
	l.log.WarnContext(ctx, "alert",
		"id", a.ID.String(),
		"kind", string(a.Kind),
		"venue", a.Venue,
		"message", a.Message,
	)
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// Alert stores a.
func (r *Recorder) Alert(_ context.Context, a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// Count returns how many alerts of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}
