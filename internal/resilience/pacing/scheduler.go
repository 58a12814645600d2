// Package pacing enforces per-domain dispatch spacing and concurrency caps.
//
// Every domain gets its own lane: a weighted semaphore for the concurrency
// cap and a burst-1 rate limiter for spacing. Unrelated domains never
// contend. Callers over the cap wait in the semaphore's FIFO queue bounded
// by a maximum wait.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vietddude/crawlguard/internal/core/clock"
	"github.com/vietddude/crawlguard/internal/core/domain"
)

// ErrAdmissionTimeout is returned when a caller waited longer than the
// scheduler's maximum admission wait. It reports Timeout() == true like a
// net.Error so classifiers treat it as a timeout.
var ErrAdmissionTimeout error = admissionTimeout{}

type admissionTimeout struct{}

func (admissionTimeout) Error() string { return "pacing: admission wait timeout" }
func (admissionTimeout) Timeout() bool { return true }

// DefaultMaxWait bounds how long a caller may sit in a domain's queue.
const DefaultMaxWait = 2 * time.Minute

// PolicySource supplies the current policy for a domain.
type PolicySource interface {
	Get(domain string) domain.SitePolicy
}

// Stats is a point-in-time view of a lane.
type Stats struct {
	Domain       string    `json:"domain"`
	Limit        int       `json:"limit"`
	InFlight     int       `json:"in_flight"`
	Waiting      int       `json:"waiting"`
	Dispatched   int64     `json:"dispatched"`
	LastDispatch time.Time `json:"last_dispatch"`
	HoldUntil    time.Time `json:"hold_until,omitempty"`
}

// Scheduler admits requests per domain.
type Scheduler struct {
	policies PolicySource
	clock    clock.Clock
	maxWait  time.Duration
	jitter   bool

	mu    sync.RWMutex // guards lanes map only
	lanes map[string]*lane
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxWait sets the maximum time a caller may wait for admission.
// Zero disables the bound (the caller's context still applies).
func WithMaxWait(d time.Duration) Option {
	return func(s *Scheduler) { s.maxWait = d }
}

// WithDelayJitter toggles picking the gap uniformly within [MinDelay, MaxDelay].
// When disabled every gap is exactly MinDelay.
func WithDelayJitter(enabled bool) Option {
	return func(s *Scheduler) { s.jitter = enabled }
}

// New creates a scheduler reading limits from policies.
func New(policies PolicySource, clk clock.Clock, opts ...Option) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	s := &Scheduler{
		policies: policies,
		clock:    clk,
		maxWait:  DefaultMaxWait,
		jitter:   true,
		lanes:    make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Permit is held for the duration of one in-flight request.
type Permit struct {
	Domain     string
	DispatchAt time.Time
	lane       *lane
	once       sync.Once
}

// Release returns the concurrency slot. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.lane.release() })
}

// Acquire suspends the caller until dispatch to d is safe: a concurrency slot
// is free and the domain's minimum spacing has elapsed since the previous
// dispatch. The returned permit must be released when the request completes.
func (s *Scheduler) Acquire(ctx context.Context, d string) (*Permit, error) {
	d = domain.NormalizeDomain(d)
	l := s.enter(d)
	p := s.policies.Get(d)

	actx := ctx
	if s.maxWait > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.maxWait)
		defer cancel()
	}

	if err := l.admit(actx, p.MaxConcurrency); err != nil {
		return nil, s.admissionError(ctx, d, err)
	}

	at, err := l.space(actx, s.clock, s.gap(p))
	if err != nil {
		l.release()
		return nil, s.admissionError(ctx, d, err)
	}

	return &Permit{Domain: d, DispatchAt: at, lane: l}, nil
}

// Release returns p's slot; equivalent to p.Release().
func (s *Scheduler) Release(p *Permit) {
	p.Release()
}

// HoldUntil stops all dispatches to d until t (used after rate limiting).
// An earlier hold never shortens a later one.
func (s *Scheduler) HoldUntil(d string, t time.Time) {
	l := s.live(domain.NormalizeDomain(d))
	defer l.mu.Unlock()
	if t.After(l.holdUntil) {
		l.holdUntil = t
	}
}

// Stats returns the lane view for d.
func (s *Scheduler) Stats(d string) Stats {
	d = domain.NormalizeDomain(d)
	s.mu.RLock()
	l, ok := s.lanes[d]
	s.mu.RUnlock()
	if !ok {
		return Stats{Domain: d, Limit: s.policies.Get(d).MaxConcurrency}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Domain:       d,
		Limit:        l.limit,
		InFlight:     l.inFlight,
		Waiting:      l.waiting,
		Dispatched:   l.dispatched,
		LastDispatch: l.lastDispatch,
		HoldUntil:    l.holdUntil,
	}
}

// Prune drops idle lanes whose last dispatch is older than idle.
// Returns the number of lanes removed.
func (s *Scheduler) Prune(idle time.Duration) int {
	cutoff := s.clock.Now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for d, l := range s.lanes {
		l.mu.Lock()
		quiet := l.inFlight == 0 && l.waiting == 0 && l.pending == 0 &&
			l.lastDispatch.Before(cutoff) && l.holdUntil.Before(cutoff)
		if quiet {
			l.dead = true
		}
		l.mu.Unlock()
		if quiet {
			delete(s.lanes, d)
			removed++
		}
	}
	return removed
}

func (s *Scheduler) admissionError(parent context.Context, d string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("pacing %s: %w", d, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("pacing %s: %w", d, ErrAdmissionTimeout)
	}
	return fmt.Errorf("pacing %s: %w", d, err)
}

func (s *Scheduler) gap(p domain.SitePolicy) time.Duration {
	span := p.MaxDelay - p.MinDelay
	if !s.jitter || span <= 0 {
		return p.MinDelay
	}
	return p.MinDelay + rand.N(span+1)
}

// live returns d's lane locked, looking it up again if Prune removed the
// one it found.
func (s *Scheduler) live(d string) *lane {
	for {
		l := s.lane(d)
		l.mu.Lock()
		if !l.dead {
			return l
		}
		l.mu.Unlock()
	}
}

// enter counts the caller as waiting on d's lane, which keeps Prune away
// until admission resolves.
func (s *Scheduler) enter(d string) *lane {
	l := s.live(d)
	l.waiting++
	l.mu.Unlock()
	return l
}

func (s *Scheduler) lane(d string) *lane {
	s.mu.RLock()
	l, ok := s.lanes[d]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[d]; ok {
		return l
	}
	l = newLane()
	s.lanes[d] = l
	return l
}
