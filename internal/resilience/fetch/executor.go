// Package fetch is the resilient fetch executor: the single entry point that
// paces, dispatches, classifies, adapts and retries outbound requests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/crawlguard/internal/core/clock"
	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/classify"
	"github.com/vietddude/crawlguard/internal/resilience/health"
	"github.com/vietddude/crawlguard/internal/resilience/pacing"
	"github.com/vietddude/crawlguard/internal/resilience/policy"
	"github.com/vietddude/crawlguard/internal/resilience/strategy"
	"github.com/vietddude/crawlguard/internal/resilience/telemetry"
)

// Deps are the collaborators of an Executor. Transport is required; the
// rest default to fresh in-memory components.
type Deps struct {
	Transport  domain.Transport
	Fallback   domain.Transport // optional, e.g. the browser transport
	Policies   *policy.Registry
	Pacing     *pacing.Scheduler
	Health     *health.Tracker
	Strategies *strategy.Catalog
	Clock      clock.Clock
	Observer   telemetry.Observer
	Logger     *slog.Logger
}

// Executor is safe for concurrent use by any number of callers.
type Executor struct {
	transport  domain.Transport
	fallback   domain.Transport
	policies   *policy.Registry
	pacing     *pacing.Scheduler
	health     *health.Tracker
	strategies *strategy.Catalog
	clock      clock.Clock
	observer   telemetry.Observer
	logger     *slog.Logger
	defaults   CallOptions

	metrics  recoveryMetrics
	rotation atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]pendingAdaptation // domain -> strategy awaiting an outcome
}

type pendingAdaptation struct {
	strategyID string
	since      time.Time
}

// New wires an executor. opts set the default CallOptions.
func New(deps Deps, opts ...Option) (*Executor, error) {
	if deps.Transport == nil {
		return nil, errors.New("fetch: transport is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Policies == nil {
		deps.Policies = policy.New(policy.Default())
	}
	if deps.Pacing == nil {
		deps.Pacing = pacing.New(deps.Policies, deps.Clock)
	}
	if deps.Health == nil {
		deps.Health = health.NewTracker(health.DefaultConfig(), deps.Clock)
	}
	if deps.Strategies == nil {
		cfg := strategy.DefaultConfig()
		cfg.Clock = deps.Clock
		deps.Strategies = strategy.NewCatalog(cfg)
	}
	if deps.Observer == nil {
		deps.Observer = telemetry.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	defaults := defaultCallOptions()
	for _, opt := range opts {
		opt(&defaults)
	}

	return &Executor{
		transport:  deps.Transport,
		fallback:   deps.Fallback,
		policies:   deps.Policies,
		pacing:     deps.Pacing,
		health:     deps.Health,
		strategies: deps.Strategies,
		clock:      deps.Clock,
		observer:   deps.Observer,
		logger:     deps.Logger,
		defaults:   defaults,
		pending:    make(map[string]pendingAdaptation),
	}, nil
}

// call is the per-Fetch state.
type call struct {
	id        string
	url       string
	domain    string
	opts      CallOptions
	transport domain.Transport

	uaIndex    int
	proxyIndex int
	tightened  bool

	firstFailure time.Time
	applied      []string // distinct strategy ids, in order of first use
	kindRetries  map[domain.ErrorKind]int
}

func (c *call) markApplied(id string) {
	for _, a := range c.applied {
		if a == id {
			return
		}
	}
	c.applied = append(c.applied, id)
}

// Fetch retrieves rawURL. It returns the response of the first successful
// attempt, or a *Error whose Cause is ErrBlacklisted, ErrNotFound or
// ErrRetriesExhausted. Cancellation of ctx is returned wrapped, as is.
func (e *Executor) Fetch(ctx context.Context, rawURL string, opts ...Option) (*domain.Response, error) {
	host, err := domain.HostOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}

	seq := int(e.rotation.Add(1))
	c := &call{
		id:          uuid.NewString(),
		url:         rawURL,
		domain:      host,
		opts:        o,
		transport:   e.transport,
		uaIndex:     seq,
		proxyIndex:  seq,
		kindRetries: make(map[domain.ErrorKind]int),
	}
	if o.Fallback && e.fallback != nil {
		c.transport = e.fallback
	}

	maxAttempts := o.MaxRetries + 1
	attempts := 0
	var last *domain.ErrorPattern

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if e.health.IsBlacklisted(host) {
			e.emit(c, telemetry.Event{Type: telemetry.EventBlocked, Attempt: attempt})
			e.finish(c, false)
			return nil, &Error{URL: rawURL, Domain: host, Attempts: attempt - 1, Last: last, Cause: ErrBlacklisted}
		}

		attempts = attempt
		resp, pattern, err := e.attempt(ctx, c, attempt)
		if err != nil {
			e.finish(c, false)
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if pattern == nil {
			e.succeed(c, attempt)
			return resp, nil
		}
		last = pattern

		if !pattern.Kind.Retryable() {
			e.finish(c, false)
			return nil, &Error{URL: rawURL, Domain: host, Attempts: attempt, Last: last, Cause: ErrNotFound}
		}

		s, ok := e.strategies.Select(*pattern)
		if ok {
			e.apply(c, s, attempt)
		}

		if attempt == maxAttempts || !c.retryAllowed(pattern.Kind, s, ok) {
			break
		}
		c.kindRetries[pattern.Kind]++

		wait := e.strategies.ComputeWait(*pattern, s, e.health.ConsecutiveFailures(host))
		if pattern.Kind == domain.KindRateLimit {
			e.pacing.HoldUntil(host, e.clock.Now().Add(wait))
		}
		e.emit(c, telemetry.Event{Type: telemetry.EventBackoff, Attempt: attempt, Kind: pattern.Kind, Strategy: s.ID, Wait: wait})
		if err := clock.Sleep(ctx, e.clock, wait); err != nil {
			e.finish(c, false)
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		e.emit(c, telemetry.Event{Type: telemetry.EventRetry, Attempt: attempt + 1, Kind: pattern.Kind, Strategy: s.ID})
	}

	e.finish(c, false)
	e.emit(c, telemetry.Event{Type: telemetry.EventExhausted, Kind: last.Kind, Status: last.HTTPStatus, Message: last.Message})
	return nil, &Error{URL: rawURL, Domain: host, Attempts: attempts, Last: last, Cause: ErrRetriesExhausted}
}

// retryAllowed applies a strategy's retry_limit to the call.
func (c *call) retryAllowed(kind domain.ErrorKind, s strategy.Strategy, ok bool) bool {
	if !ok {
		return true
	}
	a, has := s.Action(strategy.ActionRetryLimit)
	if !has {
		return true
	}
	return c.kindRetries[kind] < int(a.Param("max", 0))
}

// attempt runs one paced transport call. It returns a nil pattern on
// success; err is only set when the caller's context ended.
func (e *Executor) attempt(ctx context.Context, c *call, n int) (*domain.Response, *domain.ErrorPattern, error) {
	p := e.policies.Get(c.domain)
	ua := p.UserAgent(c.uaIndex)
	req := domain.Request{
		URL:       c.url,
		Headers:   p.Headers(ua),
		Timeout:   c.opts.Timeout,
		Proxy:     p.Proxy(c.proxyIndex),
		UserAgent: ua,
	}
	for k, vs := range c.opts.Headers {
		req.Headers[k] = append([]string(nil), vs...)
	}

	permit, err := e.pacing.Acquire(ctx, c.domain)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, err
		}
		// Admission timeout counts as a timeout failure of this attempt.
		return nil, e.failed(c, n, req, domain.Outcome{Err: err}, nil, 0), nil
	}

	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	start := e.clock.Now()
	resp, err := c.transport.Do(actx, req)
	latency := e.clock.Now().Sub(start)
	cancel()
	permit.Release()

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	e.emit(c, telemetry.Event{Type: telemetry.EventAttempt, Attempt: n})

	out := domain.Outcome{Err: err}
	if resp != nil {
		out.Status = resp.Status
		if resp.Latency == 0 {
			resp.Latency = latency
		}
	}

	if err == nil && classify.Classify(out) == domain.KindNone {
		if t := e.health.RecordSuccess(c.domain, latency); t == health.Unblacklisted {
			e.emit(c, telemetry.Event{Type: telemetry.EventUnblacklisted})
		}
		e.emit(c, telemetry.Event{Type: telemetry.EventSuccess, Attempt: n, Status: out.Status, Latency: latency})
		return resp, nil, nil
	}
	return nil, e.failed(c, n, req, out, resp, latency), nil
}

// failed classifies and records a failed attempt.
func (e *Executor) failed(c *call, n int, req domain.Request, out domain.Outcome, resp *domain.Response, latency time.Duration) *domain.ErrorPattern {
	kind := classify.Classify(out)
	now := e.clock.Now()

	pattern := classify.Pattern(kind, req, c.domain, out)
	pattern.ObservedAt = now
	pattern.Latency = latency
	if resp != nil && (out.Status == 429 || out.Status == 503) {
		pattern.RetryAfter = parseRetryAfter(resp.Headers, now)
	}

	if c.firstFailure.IsZero() {
		c.firstFailure = now
	}
	e.metrics.failedAttempt()

	evType := telemetry.EventFailure
	switch kind {
	case domain.KindRateLimit:
		evType = telemetry.EventRateLimit
	case domain.KindBotDetection:
		evType = telemetry.EventForbidden
	}
	e.emit(c, telemetry.Event{Type: evType, Attempt: n, Kind: kind, Status: out.Status, Message: pattern.Message, Latency: latency})

	switch e.health.RecordFailure(pattern) {
	case health.Blacklisted:
		e.emit(c, telemetry.Event{Type: telemetry.EventBlacklisted, Kind: kind, Message: "failure threshold reached"})
	case health.PermanentlyBlocked:
		e.emit(c, telemetry.Event{Type: telemetry.EventBlacklisted, Kind: kind, Message: "permanent block threshold reached"})
	}

	return &pattern
}

// apply carries out a strategy's actions for the rest of the call.
func (e *Executor) apply(c *call, s strategy.Strategy, attempt int) {
	e.strategies.MarkApplied(s.ID)
	e.metrics.strategyApplied()
	c.markApplied(s.ID)
	e.emit(c, telemetry.Event{Type: telemetry.EventStrategyApplied, Attempt: attempt, Strategy: s.ID})

	for _, a := range s.Actions {
		switch a.Kind {
		case strategy.ActionRotateUserAgent:
			c.uaIndex++
		case strategy.ActionRotateProxy:
			c.proxyIndex++
		case strategy.ActionReduceConcurrency:
			if !c.tightened {
				p := e.policies.Tighten(c.domain, int(a.Param("step", 1)))
				c.tightened = true
				e.logger.Debug("Reduced concurrency", "domain", c.domain, "max_concurrency", p.MaxConcurrency)
			}
		case strategy.ActionFallbackTransport:
			if e.fallback != nil {
				c.transport = e.fallback
			}
		}
	}
}

func (e *Executor) succeed(c *call, attempt int) {
	if !c.firstFailure.IsZero() {
		after := e.clock.Now().Sub(c.firstFailure)
		e.metrics.recovered(after)
		e.emit(c, telemetry.Event{Type: telemetry.EventRecovered, Attempt: attempt, Latency: after})
	}
	e.finish(c, true)
}

// finish reports the call's terminal outcome to every strategy it applied
// and to any adaptation pending for the domain.
func (e *Executor) finish(c *call, success bool) {
	var recoveryTime time.Duration
	if success && !c.firstFailure.IsZero() {
		recoveryTime = e.clock.Now().Sub(c.firstFailure)
	}
	for _, id := range c.applied {
		e.reportAdaptation(id, success, recoveryTime)
	}

	if p, ok := e.takePending(c.domain); ok {
		var d time.Duration
		if success {
			d = e.clock.Now().Sub(p.since)
		}
		e.reportAdaptation(p.strategyID, success, d)
	}
}

func (e *Executor) reportAdaptation(id string, recovered bool, d time.Duration) {
	if err := e.strategies.ReportOutcome(id, recovered, d); err != nil {
		e.logger.Warn("Failed to report strategy outcome", "strategy", id, "error", err)
		return
	}
	e.metrics.adaptation(recovered)
}

func (e *Executor) emit(c *call, ev telemetry.Event) {
	ev.CallID = c.id
	ev.Domain = c.domain
	ev.URL = c.url
	ev.At = e.clock.Now()
	e.observer.Observe(ev)
}

// IsBlacklisted reports whether fetches to d currently fail fast.
func (e *Executor) IsBlacklisted(d string) bool {
	return e.health.IsBlacklisted(d)
}

// ClearBlacklist lifts d's blacklist. Reports whether it was blacklisted.
func (e *Executor) ClearBlacklist(d string) bool {
	was := e.health.ClearBlacklist(d)
	if was {
		e.logger.Info("Blacklist cleared", "domain", domain.NormalizeDomain(d))
		e.observer.Observe(telemetry.Event{
			Type:    telemetry.EventUnblacklisted,
			Domain:  domain.NormalizeDomain(d),
			Message: "cleared manually",
			At:      e.clock.Now(),
		})
	}
	return was
}

// DomainAnalysis returns the descriptive health report for d.
func (e *Executor) DomainAnalysis(d string) domain.DomainAnalysis {
	return e.health.Analysis(d)
}

// Metrics returns a snapshot of the process-wide recovery metrics.
func (e *Executor) Metrics() domain.RecoveryMetrics {
	return e.metrics.snapshot(e.clock.Now())
}

// Health exposes the tracker for operational surfaces.
func (e *Executor) Health() *health.Tracker { return e.health }

// Strategies exposes the catalog for operational surfaces.
func (e *Executor) Strategies() *strategy.Catalog { return e.strategies }

// Pacing exposes the scheduler for operational surfaces.
func (e *Executor) Pacing() *pacing.Scheduler { return e.pacing }
