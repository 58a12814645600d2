package domain

import "time"

// DomainHealth is the rolling failure history of one domain.
type DomainHealth struct {
	Domain              string         `json:"domain"`
	ErrorHistory        []ErrorPattern `json:"-"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Blacklisted         bool           `json:"blacklisted"`
	PermanentlyBlocked  bool           `json:"permanently_blocked"`
	LastSuccessAt       time.Time      `json:"last_success_at"`
	LastRequestAt       time.Time      `json:"last_request_at"`
	ClearedAt           time.Time      `json:"cleared_at,omitempty"`
}

// DomainAnalysis is a descriptive report for monitoring surfaces.
// It is never consumed by control flow.
type DomainAnalysis struct {
	Domain              string            `json:"domain"`
	Blacklisted         bool              `json:"blacklisted"`
	PermanentlyBlocked  bool              `json:"permanently_blocked"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	TotalErrors         int               `json:"total_errors"`
	ErrorsInWindow      int               `json:"errors_in_window"`
	ErrorFrequency      float64           `json:"error_frequency_per_hour"`
	Breakdown           map[ErrorKind]int `json:"common_error_breakdown"`
	AverageLatency      time.Duration     `json:"average_latency"`
	LastSuccessAt       time.Time         `json:"last_success_at"`
	LastRequestAt       time.Time         `json:"last_request_at"`
	RecommendedActions  []string          `json:"recommended_actions"`
}
