// Package metrics exposes Prometheus counters for trading-day resolution,
// the cache-aside layer and venue status probes.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "tradingcal_"

var (
	registerOnce sync.Once

	resolutionsTotal  *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec

	probeResults *prometheus.CounterVec

	calendarRangeDays prometheus.Counter
	alertsTotal       *prometheus.CounterVec
)

// Init registers the collectors with reg, or with the default registerer
// when reg is nil. Only the first call has any effect.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		resolutionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "resolutions_total",
				Help: "Trading-day resolutions by policy, source, outcome and degraded flag",
			},
			[]string{"policy", "source", "open", "degraded"},
		)
		resolutionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "resolution_latency_seconds",
				Help:    "Trading-day resolution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		)
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		)
		cacheErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_errors_total",
				Help: "Swallowed cache errors by operation",
			},
			[]string{"op"},
		)
		probeResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "probe_results_total",
				Help: "Venue status probes by venue and result",
			},
			[]string{"venue", "result"},
		)
		calendarRangeDays = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "calendar_range_days_total",
				Help: "Calendar rows produced by range builds",
			},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Operator alerts by kind",
			},
			[]string{"kind"},
		)

		reg.MustRegister(
			resolutionsTotal,
			resolutionLatency,
			cacheLookups,
			cacheErrors,
			probeResults,
			calendarRangeDays,
			alertsTotal,
		)
	})
}

// ObserveResolution records one completed resolution.
func ObserveResolution(policy, source string, open, degraded bool, d time.Duration) {
	if policy == "" {
		policy = "unknown"
	}
	if resolutionsTotal != nil {
		resolutionsTotal.WithLabelValues(policy, source, strconv.FormatBool(open), strconv.FormatBool(degraded)).Inc()
	}
	if resolutionLatency != nil {
		resolutionLatency.WithLabelValues(policy).Observe(d.Seconds())
	}
}

// IncCacheLookup counts a cache hit or miss.
func IncCacheLookup(hit bool) {
	if cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// IncCacheError counts a swallowed cache error.
func IncCacheError(op string) {
	if cacheErrors != nil {
		cacheErrors.WithLabelValues(op).Inc()
	}
}

// IncProbe counts a probe outcome: "ok", "not_ok", "error", "breaker_open",
// "rate_limited" or "unsupported".
func IncProbe(venue, result string) {
	if probeResults != nil {
		probeResults.WithLabelValues(venue, result).Inc()
	}
}

// AddRangeDays counts rows produced by a range build.
func AddRangeDays(n int) {
	if n > 0 && calendarRangeDays != nil {
		calendarRangeDays.Add(float64(n))
	}
}

// IncAlert counts an emitted operator alert.
func IncAlert(kind string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(kind).Inc()
	}
}
