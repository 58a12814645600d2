package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/telemetry"
)

// MetricsSource provides recovery counters.
type MetricsSource interface {
	Metrics() domain.RecoveryMetrics
}

// BlacklistSource lists currently blacklisted domains.
type BlacklistSource interface {
	Blacklisted() []string
}

// SnapshotSink receives periodic snapshots.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, m domain.RecoveryMetrics) error
	PublishBlacklist(ctx context.Context, domains []string) error
}

// Reporter publishes recovery metrics and the blacklist on an interval.
type Reporter struct {
	interval  time.Duration
	metrics   MetricsSource
	blacklist BlacklistSource
	sinks     []SnapshotSink
	logger    *slog.Logger
}

// NewReporter creates a new Reporter worker.
func NewReporter(
	interval time.Duration,
	metrics MetricsSource,
	blacklist BlacklistSource,
	logger *slog.Logger,
	sinks ...SnapshotSink,
) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		interval:  interval,
		metrics:   metrics,
		blacklist: blacklist,
		sinks:     sinks,
		logger:    logger,
	}
}

// Start runs the report loop until ctx is done. A final report is made on
// shutdown.
func (r *Reporter) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.report(ctx)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			r.report(flushCtx)
			cancel()
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	m := r.metrics.Metrics()
	listed := r.blacklist.Blacklisted()
	telemetry.BlacklistedDomains.Set(float64(len(listed)))

	for _, sink := range r.sinks {
		if err := sink.PublishSnapshot(ctx, m); err != nil {
			r.logger.Warn("[Reporter] failed to publish snapshot", "error", err)
		}
		if err := sink.PublishBlacklist(ctx, listed); err != nil {
			r.logger.Warn("[Reporter] failed to publish blacklist", "error", err)
		}
	}
}
