package telemetry

import (
	"log/slog"
)

// LogObserver writes events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns an observer logging to logger (slog.Default when nil).
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Observe(e Event) {
	attrs := []any{"domain", e.Domain, "call_id", e.CallID}
	if e.URL != "" {
		attrs = append(attrs, "url", e.URL)
	}
	if e.Attempt > 0 {
		attrs = append(attrs, "attempt", e.Attempt)
	}
	if e.Kind.IsFailure() {
		attrs = append(attrs, "kind", e.Kind.String())
	}
	if e.Status != 0 {
		attrs = append(attrs, "status", e.Status)
	}
	if e.Strategy != "" {
		attrs = append(attrs, "strategy", e.Strategy)
	}
	if e.Wait > 0 {
		attrs = append(attrs, "wait", e.Wait)
	}
	if e.Message != "" {
		attrs = append(attrs, "error", e.Message)
	}

	switch e.Type {
	case EventRateLimit:
		o.logger.Warn("Rate limited", attrs...)
	case EventForbidden:
		o.logger.Warn("Forbidden, possible bot detection", attrs...)
	case EventBlacklisted:
		o.logger.Warn("Domain blacklisted", attrs...)
	case EventUnblacklisted:
		o.logger.Info("Domain recovered from blacklist", attrs...)
	case EventExhausted:
		o.logger.Info("Fetch gave up", attrs...)
	case EventRecovered:
		o.logger.Info("Fetch recovered", attrs...)
	case EventBlocked:
		o.logger.Debug("Fetch skipped, domain blacklisted", attrs...)
	case EventBackoff:
		o.logger.Debug("Backing off", attrs...)
	case EventRetry:
		o.logger.Debug("Retrying", attrs...)
	case EventStrategyApplied:
		o.logger.Debug("Strategy applied", attrs...)
	case EventFailure:
		o.logger.Debug("Attempt failed", attrs...)
	}
}
