package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts transport attempts per domain
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlguard_fetch_attempts_total",
			Help: "Total number of transport attempts",
		},
		[]string{"domain"},
	)

	// ErrorsTotal counts classified failures per domain and kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlguard_fetch_errors_total",
			Help: "Total number of classified fetch failures",
		},
		[]string{"domain", "kind"},
	)

	// OutcomesTotal counts terminal fetch outcomes
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlguard_fetch_outcomes_total",
			Help: "Total number of terminal fetch outcomes",
		},
		[]string{"domain", "outcome"},
	)

	// FetchLatency tracks successful transport latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlguard_fetch_latency_seconds",
			Help:    "Transport latency of successful attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	// BackoffSeconds tracks applied waits per strategy
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlguard_backoff_seconds",
			Help:    "Wait applied between retries in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	// StrategiesApplied counts strategy applications
	StrategiesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlguard_strategies_applied_total",
			Help: "Total number of strategy applications",
		},
		[]string{"strategy"},
	)

	// BlacklistTransitions counts blacklist flips per domain
	BlacklistTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlguard_blacklist_transitions_total",
			Help: "Total number of blacklist state changes",
		},
		[]string{"domain", "transition"},
	)

	// BlacklistedDomains tracks how many domains are currently blacklisted.
	// Set periodically from the health tracker since blacklists also lapse
	// silently when their window passes.
	BlacklistedDomains = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlguard_blacklisted_domains",
			Help: "Number of currently blacklisted domains",
		},
	)
)

// MetricsObserver records events into the package's Prometheus collectors.
type MetricsObserver struct{}

func (MetricsObserver) Observe(e Event) {
	switch e.Type {
	case EventAttempt:
		AttemptsTotal.WithLabelValues(e.Domain).Inc()
	case EventSuccess:
		FetchLatency.WithLabelValues(e.Domain).Observe(e.Latency.Seconds())
		OutcomesTotal.WithLabelValues(e.Domain, "success").Inc()
	case EventRateLimit, EventForbidden, EventFailure:
		ErrorsTotal.WithLabelValues(e.Domain, e.Kind.String()).Inc()
	case EventStrategyApplied:
		StrategiesApplied.WithLabelValues(e.Strategy).Inc()
	case EventBackoff:
		BackoffSeconds.WithLabelValues(e.Strategy).Observe(e.Wait.Seconds())
	case EventExhausted:
		OutcomesTotal.WithLabelValues(e.Domain, "exhausted").Inc()
	case EventBlocked:
		OutcomesTotal.WithLabelValues(e.Domain, "blocked").Inc()
	case EventBlacklisted:
		BlacklistTransitions.WithLabelValues(e.Domain, "blacklisted").Inc()
	case EventUnblacklisted:
		BlacklistTransitions.WithLabelValues(e.Domain, "unblacklisted").Inc()
	}
}
