// Package strategy holds the scored catalog of corrective strategies applied
// between retries.
//
// Strategies are declarative: a Trigger says which failures a strategy
// handles and a list of Actions says what to do about them. The fetch
// executor interprets the actions; this package only selects, scores and
// computes waits.
package strategy

import (
	"slices"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// ActionKind names a corrective action.
type ActionKind string

const (
	ActionExponentialBackoff  ActionKind = "exponential_backoff" // params: cap_ms
	ActionDelayMultiplier     ActionKind = "delay_multiplier"    // params: factor
	ActionJitter              ActionKind = "jitter"
	ActionRotateUserAgent     ActionKind = "rotate_user_agent"
	ActionRotateProxy         ActionKind = "rotate_proxy"
	ActionReduceConcurrency   ActionKind = "reduce_concurrency" // params: step
	ActionFallbackTransport   ActionKind = "fallback_transport"
	ActionRetryLimit          ActionKind = "retry_limit" // params: max
	ActionAlternateExtraction ActionKind = "alternate_extraction"
	ActionAlternateSelectors  ActionKind = "alternate_selectors"
)

// Action is one step of a strategy.
type Action struct {
	Kind   ActionKind         `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Param returns the named parameter or def when absent.
func (a Action) Param(name string, def float64) float64 {
	if v, ok := a.Params[name]; ok {
		return v
	}
	return def
}

// Trigger matches failures by kind or by HTTP status.
type Trigger struct {
	Kinds       []domain.ErrorKind `json:"kinds,omitempty"`
	StatusCodes []int              `json:"status_codes,omitempty"`
	// AnyRetryable matches every retryable kind (used by the catch-all).
	AnyRetryable bool `json:"any_retryable,omitempty"`
}

// Matches reports whether p should be handled by the trigger's strategy.
func (t Trigger) Matches(p domain.ErrorPattern) bool {
	if !p.Kind.IsFailure() {
		return false
	}
	if slices.Contains(t.Kinds, p.Kind) {
		return true
	}
	if p.HTTPStatus != 0 && slices.Contains(t.StatusCodes, p.HTTPStatus) {
		return true
	}
	return t.AnyRetryable && p.Kind.Retryable()
}

// Strategy is a named, scored mapping from failures to corrective actions.
type Strategy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Trigger     Trigger   `json:"trigger"`
	Actions     []Action  `json:"actions"`
	Priority    int       `json:"priority"`
	SuccessRate float64   `json:"success_rate"`
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
}

// Action returns the first action of kind k.
func (s Strategy) Action(k ActionKind) (Action, bool) {
	for _, a := range s.Actions {
		if a.Kind == k {
			return a, true
		}
	}
	return Action{}, false
}

// Has reports whether s carries an action of kind k.
func (s Strategy) Has(k ActionKind) bool {
	_, ok := s.Action(k)
	return ok
}

func (s Strategy) clone() Strategy {
	out := s
	out.Trigger.Kinds = slices.Clone(s.Trigger.Kinds)
	out.Trigger.StatusCodes = slices.Clone(s.Trigger.StatusCodes)
	out.Actions = make([]Action, len(s.Actions))
	for i, a := range s.Actions {
		out.Actions[i] = Action{Kind: a.Kind}
		if a.Params != nil {
			out.Actions[i].Params = make(map[string]float64, len(a.Params))
			for k, v := range a.Params {
				out.Actions[i].Params[k] = v
			}
		}
	}
	return out
}

// Stats is the per-strategy usage record exposed for monitoring.
type Stats struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Priority            int           `json:"priority"`
	SuccessRate         float64       `json:"success_rate"`
	Applications        int64         `json:"applications"`
	Recoveries          int64         `json:"recoveries"`
	Failures            int64         `json:"failures"`
	AverageRecoveryTime time.Duration `json:"average_recovery_time"`
	LastUsedAt          time.Time     `json:"last_used_at,omitempty"`
}
