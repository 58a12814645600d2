package domain

import "time"

// RecoveryMetrics are process-wide counters updated on every terminal fetch outcome.
type RecoveryMetrics struct {
	TotalErrors           int64         `json:"total_errors"`
	RecoveredErrors       int64         `json:"recovered_errors"`
	StrategiesApplied     int64         `json:"strategies_applied"`
	SuccessfulAdaptations int64         `json:"successful_adaptations"`
	FailedAdaptations     int64         `json:"failed_adaptations"`
	AverageRecoveryTime   time.Duration `json:"average_recovery_time"`
	CapturedAt            time.Time     `json:"captured_at"`
}
