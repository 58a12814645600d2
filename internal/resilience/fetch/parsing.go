package fetch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/health"
	"github.com/vietddude/crawlguard/internal/resilience/strategy"
	"github.com/vietddude/crawlguard/internal/resilience/telemetry"
)

// Advice tells extraction logic how to react to a soft failure it reported.
type Advice struct {
	Strategy            string            `json:"strategy,omitempty"`
	Actions             []strategy.Action `json:"actions,omitempty"`
	Wait                time.Duration     `json:"wait"`
	Retries             int               `json:"retries"`
	AlternateExtraction bool              `json:"alternate_extraction"`
	AlternateSelectors  bool              `json:"alternate_selectors"`
	RotateUserAgent     bool              `json:"rotate_user_agent"`
	Blacklisted         bool              `json:"blacklisted"`
}

// ReportParsingOutcome records a failure detected after a successful fetch
// (kind must be parsing_error or content_change) and returns what the caller
// should try next. The chosen strategy is scored on the domain's next
// terminal fetch outcome.
func (e *Executor) ReportParsingOutcome(d, rawURL string, kind domain.ErrorKind) (Advice, error) {
	if kind != domain.KindParsingError && kind != domain.KindContentChange {
		return Advice{}, fmt.Errorf("report parsing outcome: unsupported kind %q", kind)
	}
	if d == "" {
		host, err := domain.HostOf(rawURL)
		if err != nil {
			return Advice{}, fmt.Errorf("report parsing outcome: %w", err)
		}
		d = host
	}
	d = domain.NormalizeDomain(d)
	c := &call{id: uuid.NewString(), url: rawURL, domain: d}
	now := e.clock.Now()

	pattern := domain.ErrorPattern{
		Kind:       kind,
		Message:    "reported by extraction",
		Domain:     d,
		URL:        rawURL,
		ObservedAt: now,
	}
	e.metrics.failedAttempt()
	e.emit(c, telemetry.Event{Type: telemetry.EventFailure, Kind: kind, Message: pattern.Message})

	advice := Advice{}
	switch e.health.RecordFailure(pattern) {
	case health.Blacklisted, health.PermanentlyBlocked:
		e.emit(c, telemetry.Event{Type: telemetry.EventBlacklisted, Kind: kind, Message: "failure threshold reached"})
	}
	advice.Blacklisted = e.health.IsBlacklisted(d)

	s, ok := e.strategies.Select(pattern)
	if !ok {
		return advice, nil
	}
	e.strategies.MarkApplied(s.ID)
	e.metrics.strategyApplied()
	e.emit(c, telemetry.Event{Type: telemetry.EventStrategyApplied, Kind: kind, Strategy: s.ID})

	if prev, ok := e.swapPending(d, pendingAdaptation{strategyID: s.ID, since: now}); ok {
		// The previous adaptation did not prevent another soft failure.
		e.reportAdaptation(prev.strategyID, false, 0)
	}

	advice.Strategy = s.ID
	advice.Actions = s.Actions
	advice.Wait = e.strategies.ComputeWait(pattern, s, e.health.ConsecutiveFailures(d))
	advice.Retries = e.defaults.MaxRetries
	for _, a := range s.Actions {
		switch a.Kind {
		case strategy.ActionAlternateExtraction:
			advice.AlternateExtraction = true
		case strategy.ActionAlternateSelectors:
			advice.AlternateSelectors = true
		case strategy.ActionRotateUserAgent:
			advice.RotateUserAgent = true
		case strategy.ActionRetryLimit:
			advice.Retries = min(advice.Retries, int(a.Param("max", 0)))
		}
	}
	return advice, nil
}

func (e *Executor) swapPending(d string, p pendingAdaptation) (pendingAdaptation, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	prev, ok := e.pending[d]
	e.pending[d] = p
	return prev, ok
}

func (e *Executor) takePending(d string) (pendingAdaptation, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	p, ok := e.pending[d]
	if ok {
		delete(e.pending, d)
	}
	return p, ok
}
