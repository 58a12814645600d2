// Package health keeps the rolling failure history of every domain and
// decides when a domain is blacklisted.
package health

import (
	"slices"
	"sync"
	"time"

	"github.com/vietddude/crawlguard/internal/core/clock"
	"github.com/vietddude/crawlguard/internal/core/domain"
)

// Config holds the blacklist thresholds and history bounds.
type Config struct {
	Window                      time.Duration
	Retention                   time.Duration
	HistoryLimit                int
	ConsecutiveFailureThreshold int
	BotDetectionMinEvents       int
	BotDetectionRatio           float64
	// PermanentBlockThreshold > 0 enables permanent blocks: only
	// ClearBlacklist lifts them.
	PermanentBlockThreshold int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Window:                      24 * time.Hour,
		Retention:                   7 * 24 * time.Hour,
		HistoryLimit:                1000,
		ConsecutiveFailureThreshold: 10,
		BotDetectionMinEvents:       5,
		BotDetectionRatio:           0.8,
	}
}

// Transition describes a blacklist state change caused by a record call.
type Transition int

const (
	Unchanged Transition = iota
	Blacklisted
	PermanentlyBlocked
	Unblacklisted
)

func (t Transition) String() string {
	switch t {
	case Blacklisted:
		return "blacklisted"
	case PermanentlyBlocked:
		return "permanently_blocked"
	case Unblacklisted:
		return "unblacklisted"
	default:
		return "unchanged"
	}
}

// Tracker owns one record per domain. The map lock is only held for lookup;
// each record has its own lock so unrelated domains never contend.
type Tracker struct {
	cfg   Config
	clock clock.Clock

	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	mu         sync.Mutex
	h          domain.DomainHealth
	latencySum time.Duration
	latencyN   int
	dead       bool // removed from the tracker's map
}

// NewTracker creates a tracker. Zero config fields take their defaults.
func NewTracker(cfg Config, clk clock.Clock) *Tracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = def.ConsecutiveFailureThreshold
	}
	if cfg.BotDetectionMinEvents <= 0 {
		cfg.BotDetectionMinEvents = def.BotDetectionMinEvents
	}
	if cfg.BotDetectionRatio <= 0 || cfg.BotDetectionRatio > 1 {
		cfg.BotDetectionRatio = def.BotDetectionRatio
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		cfg:     cfg,
		clock:   clk,
		records: make(map[string]*record),
	}
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config { return t.cfg }

// RecordSuccess resets the failure streak and lifts a (non-permanent) blacklist.
func (t *Tracker) RecordSuccess(d string, latency time.Duration) Transition {
	now := t.clock.Now()
	r := t.locked(domain.NormalizeDomain(d), true)
	defer r.mu.Unlock()

	r.h.ConsecutiveFailures = 0
	r.h.LastSuccessAt = now
	r.h.LastRequestAt = now
	r.observeLatency(latency)

	if r.h.Blacklisted && !r.h.PermanentlyBlocked {
		r.h.Blacklisted = false
		return Unblacklisted
	}
	return Unchanged
}

// RecordFailure appends p to its domain's history and re-evaluates the
// blacklist. The returned transition is non-Unchanged exactly once per flip.
func (t *Tracker) RecordFailure(p domain.ErrorPattern) Transition {
	p.Domain = domain.NormalizeDomain(p.Domain)
	now := t.clock.Now()
	if p.ObservedAt.IsZero() {
		p.ObservedAt = now
	}

	r := t.locked(p.Domain, true)
	defer r.mu.Unlock()

	r.h.ErrorHistory = append(r.h.ErrorHistory, p)
	r.h.ConsecutiveFailures++
	r.h.LastRequestAt = now
	r.observeLatency(p.Latency)
	t.prune(r, now)

	if r.h.PermanentlyBlocked {
		return Unchanged
	}

	streak := t.windowStreak(r, now)
	if t.cfg.PermanentBlockThreshold > 0 && streak >= t.cfg.PermanentBlockThreshold {
		r.h.Blacklisted = true
		r.h.PermanentlyBlocked = true
		return PermanentlyBlocked
	}
	if !r.h.Blacklisted && t.tripped(r, now) {
		r.h.Blacklisted = true
		return Blacklisted
	}
	return Unchanged
}

// IsBlacklisted reports whether d is currently blacklisted. A blacklist
// whose triggering failures have aged out of the window is lifted here.
func (t *Tracker) IsBlacklisted(d string) bool {
	r := t.locked(domain.NormalizeDomain(d), false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()
	if !r.h.Blacklisted {
		return false
	}
	if r.h.PermanentlyBlocked {
		return true
	}
	if !t.tripped(r, t.clock.Now()) {
		r.h.Blacklisted = false
	}
	return r.h.Blacklisted
}

// ClearBlacklist is the manual override. It lifts blacklists (including
// permanent blocks), resets the streak and restarts the window so that a
// single new failure cannot re-trip it. Reports whether d was blacklisted.
func (t *Tracker) ClearBlacklist(d string) bool {
	r := t.locked(domain.NormalizeDomain(d), false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()
	was := r.h.Blacklisted
	r.h.Blacklisted = false
	r.h.PermanentlyBlocked = false
	r.h.ConsecutiveFailures = 0
	r.h.ClearedAt = t.clock.Now()
	return was
}

// ConsecutiveFailures returns the current failure streak for d.
func (t *Tracker) ConsecutiveFailures(d string) int {
	r := t.locked(domain.NormalizeDomain(d), false)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()
	return r.h.ConsecutiveFailures
}

// Snapshot returns a copy of d's health record.
func (t *Tracker) Snapshot(d string) (domain.DomainHealth, bool) {
	r := t.locked(domain.NormalizeDomain(d), false)
	if r == nil {
		return domain.DomainHealth{}, false
	}
	defer r.mu.Unlock()
	h := r.h
	h.ErrorHistory = slices.Clone(r.h.ErrorHistory)
	return h, true
}

// Domains returns every tracked domain, sorted.
func (t *Tracker) Domains() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.records))
	for d := range t.records {
		out = append(out, d)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Blacklisted returns every currently blacklisted domain, sorted.
func (t *Tracker) Blacklisted() []string {
	var out []string
	for _, d := range t.Domains() {
		if t.IsBlacklisted(d) {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets d entirely.
func (t *Tracker) Reset(d string) {
	d = domain.NormalizeDomain(d)

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[d]; ok {
		r.mu.Lock()
		r.dead = true
		r.mu.Unlock()
		delete(t.records, d)
	}
}

// Sweep prunes aged history across all domains and drops domains left with
// no history that are not blacklisted. Returns the number of domains dropped.
func (t *Tracker) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for d, r := range t.records {
		r.mu.Lock()
		t.prune(r, now)
		if r.h.Blacklisted && !r.h.PermanentlyBlocked && !t.tripped(r, now) {
			r.h.Blacklisted = false
		}
		empty := len(r.h.ErrorHistory) == 0 && !r.h.Blacklisted
		if empty {
			r.dead = true
		}
		r.mu.Unlock()
		if empty {
			delete(t.records, d)
			dropped++
		}
	}
	return dropped
}

// locked returns d's record with its mutex held. A record that Sweep or
// Reset removed after the lookup is skipped and the lookup repeated.
func (t *Tracker) locked(d string, create bool) *record {
	for {
		r := t.record(d, create)
		if r == nil {
			return nil
		}
		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

func (t *Tracker) record(d string, create bool) *record {
	t.mu.RLock()
	r, ok := t.records[d]
	t.mu.RUnlock()
	if ok || !create {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[d]; ok {
		return r
	}
	r = &record{h: domain.DomainHealth{Domain: d}}
	t.records[d] = r
	return r
}

// prune evicts entries beyond the count limit or older than retention,
// oldest first. Must hold r.mu.
func (t *Tracker) prune(r *record, now time.Time) {
	hist := r.h.ErrorHistory
	if over := len(hist) - t.cfg.HistoryLimit; over > 0 {
		hist = hist[over:]
	}
	cutoff := now.Add(-t.cfg.Retention)
	i := 0
	for i < len(hist) && hist[i].ObservedAt.Before(cutoff) {
		i++
	}
	hist = hist[i:]
	if len(hist) == 0 {
		hist = nil
	} else if cap(hist) > 2*t.cfg.HistoryLimit {
		hist = slices.Clone(hist)
	}
	r.h.ErrorHistory = hist
}

func (t *Tracker) windowStart(r *record, now time.Time) time.Time {
	start := now.Add(-t.cfg.Window)
	if r.h.ClearedAt.After(start) {
		start = r.h.ClearedAt
	}
	return start
}

// windowStreak counts the current failure streak restricted to the window.
// The streak's entries are always the newest ones in the history.
func (t *Tracker) windowStreak(r *record, now time.Time) int {
	start := t.windowStart(r, now)
	hist := r.h.ErrorHistory
	n := 0
	for i := len(hist) - 1; i >= 0 && n < r.h.ConsecutiveFailures; i-- {
		if hist[i].ObservedAt.Before(start) {
			break
		}
		n++
	}
	return n
}

// tripped evaluates the blacklist rule at now. Must hold r.mu.
func (t *Tracker) tripped(r *record, now time.Time) bool {
	if t.windowStreak(r, now) >= t.cfg.ConsecutiveFailureThreshold {
		return true
	}

	start := t.windowStart(r, now)
	total, bot := 0, 0
	for _, p := range r.h.ErrorHistory {
		if p.ObservedAt.Before(start) {
			continue
		}
		total++
		if p.Kind.IsBotSignal() {
			bot++
		}
	}
	return bot >= t.cfg.BotDetectionMinEvents &&
		float64(bot) > t.cfg.BotDetectionRatio*float64(total)
}

func (r *record) observeLatency(d time.Duration) {
	if d <= 0 {
		return
	}
	r.latencySum += d
	r.latencyN++
}
