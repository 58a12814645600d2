package worker

import (
	"context"
	"log/slog"
	"time"
)

// HealthSweeper drops expired failure history.
type HealthSweeper interface {
	Sweep() int
}

// LanePruner drops idle pacing lanes.
type LanePruner interface {
	Prune(idle time.Duration) int
}

// Sweeper periodically bounds the memory held by per-domain state.
type Sweeper struct {
	interval time.Duration
	idle     time.Duration
	health   HealthSweeper
	lanes    LanePruner
	logger   *slog.Logger
}

// NewSweeper creates a new Sweeper worker. lanes may be nil.
func NewSweeper(interval time.Duration, health HealthSweeper, lanes LanePruner, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		interval: interval,
		idle:     interval,
		health:   health,
		lanes:    lanes,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return // Sweeping disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep
	s.sweep()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	var dropped, pruned int
	if s.health != nil {
		dropped = s.health.Sweep()
	}
	if s.lanes != nil {
		pruned = s.lanes.Prune(s.idle)
	}
	if dropped > 0 || pruned > 0 {
		s.logger.Debug("[Sweeper] swept domain state", "domains_dropped", dropped, "lanes_pruned", pruned)
	}
}
