package strategy

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/crawlguard/internal/core/clock"
	"github.com/vietddude/crawlguard/internal/core/domain"
)

const (
	recoveredDelta = 0.1
	failedDelta    = 0.05
)

// Config controls wait computation.
type Config struct {
	// Base is the unit wait every strategy scales (default 1s).
	Base time.Duration
	// Jitter enables the ±30% spread for strategies that request it.
	Jitter bool
	// Rand returns a value in [0,1); defaults to math/rand/v2.
	Rand  func() float64
	Clock clock.Clock
}

// DefaultConfig returns a 1s base with jitter enabled.
func DefaultConfig() Config {
	return Config{Base: time.Second, Jitter: true}
}

// Catalog is safe for concurrent use.
type Catalog struct {
	cfg Config

	mu      sync.RWMutex
	entries []*entry
	byID    map[string]*entry
}

type entry struct {
	s           Strategy
	stats       Stats
	recoverySum time.Duration
}

// NewCatalog creates a catalog from seed, or from Seeds() when none is given.
func NewCatalog(cfg Config, seed ...Strategy) *Catalog {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if len(seed) == 0 {
		seed = Seeds()
	}

	c := &Catalog{cfg: cfg, byID: make(map[string]*entry, len(seed))}
	for _, s := range seed {
		s = s.clone()
		s.SuccessRate = clamp(s.SuccessRate)
		e := &entry{s: s, stats: Stats{ID: s.ID, Name: s.Name, Priority: s.Priority}}
		c.entries = append(c.entries, e)
		c.byID[s.ID] = e
	}
	return c
}

// Select returns the best strategy for p: matching triggers ordered by
// priority, then success rate.
func (c *Catalog) Select(p domain.ErrorPattern) (Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *entry
	for _, e := range c.entries {
		if !e.s.Trigger.Matches(p) {
			continue
		}
		if best == nil || better(e.s, best.s) {
			best = e
		}
	}
	if best == nil {
		return Strategy{}, false
	}
	return best.s.clone(), true
}

func better(a, b Strategy) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.SuccessRate > b.SuccessRate
}

// Get returns the strategy with the given id.
func (c *Catalog) Get(id string) (Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return Strategy{}, false
	}
	return e.s.clone(), true
}

// MarkApplied records that a strategy was applied to a failing call.
func (c *Catalog) MarkApplied(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byID[id]; ok {
		now := c.cfg.Clock.Now()
		e.s.LastUsedAt = now
		e.stats.LastUsedAt = now
		e.stats.Applications++
	}
}

// ReportOutcome nudges a strategy's success rate: up on recovery, down
// otherwise. The rate always stays within [0,1].
func (c *Catalog) ReportOutcome(id string, recovered bool, recoveryTime time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("unknown strategy %q", id)
	}
	if recovered {
		e.s.SuccessRate = clamp(e.s.SuccessRate + recoveredDelta)
		e.stats.Recoveries++
		if recoveryTime > 0 {
			e.recoverySum += recoveryTime
		}
	} else {
		e.s.SuccessRate = clamp(e.s.SuccessRate - failedDelta)
		e.stats.Failures++
	}
	return nil
}

// Strategies returns the usage stats of every strategy, highest priority first.
func (c *Catalog) Strategies() []Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Stats, 0, len(c.entries))
	for _, e := range c.entries {
		st := e.stats
		st.SuccessRate = e.s.SuccessRate
		if st.Recoveries > 0 {
			st.AverageRecoveryTime = e.recoverySum / time.Duration(st.Recoveries)
		}
		out = append(out, st)
	}
	slices.SortStableFunc(out, func(a, b Stats) int { return b.Priority - a.Priority })
	return out
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
