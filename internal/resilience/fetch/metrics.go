package fetch

import (
	"sync"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// recoveryMetrics aggregates the process-wide RecoveryMetrics.
type recoveryMetrics struct {
	mu          sync.Mutex
	m           domain.RecoveryMetrics
	recoverySum time.Duration
}

func (r *recoveryMetrics) failedAttempt() {
	r.mu.Lock()
	r.m.TotalErrors++
	r.mu.Unlock()
}

func (r *recoveryMetrics) strategyApplied() {
	r.mu.Lock()
	r.m.StrategiesApplied++
	r.mu.Unlock()
}

func (r *recoveryMetrics) adaptation(recovered bool) {
	r.mu.Lock()
	if recovered {
		r.m.SuccessfulAdaptations++
	} else {
		r.m.FailedAdaptations++
	}
	r.mu.Unlock()
}

// recovered records a call that failed at least once and then succeeded.
func (r *recoveryMetrics) recovered(after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m.RecoveredErrors++
	r.recoverySum += after
	r.m.AverageRecoveryTime = r.recoverySum / time.Duration(r.m.RecoveredErrors)
}

func (r *recoveryMetrics) snapshot(now time.Time) domain.RecoveryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.m
	m.CapturedAt = now
	return m
}
