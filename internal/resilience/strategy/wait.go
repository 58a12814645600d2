package strategy

import (
	"math"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

const (
	jitterSpread = 0.3
	// DefaultBackoffCap applies when an exponential action has no cap_ms.
	DefaultBackoffCap = 300 * time.Second
)

// ComputeWait returns the delay before retrying after p under s.
//
// Exponential strategies wait min(cap, base*2^consecutive); the rest wait
// base*factor. Jitter spreads the result by ±30% when the strategy asks for
// it. A Retry-After hint is honoured as a floor, still bounded by the cap.
func (c *Catalog) ComputeWait(p domain.ErrorPattern, s Strategy, consecutive int) time.Duration {
	base := float64(c.cfg.Base)
	ceiling := math.Inf(1)

	var wait float64
	if a, ok := s.Action(ActionExponentialBackoff); ok {
		capMs := a.Param("cap_ms", float64(DefaultBackoffCap.Milliseconds()))
		ceiling = capMs * float64(time.Millisecond)
		wait = min(ceiling, base*math.Pow(2, float64(max(consecutive, 0))))
	} else {
		factor := 1.0
		if a, ok := s.Action(ActionDelayMultiplier); ok {
			factor = a.Param("factor", 1)
		}
		wait = base * factor
	}

	if c.cfg.Jitter && s.Has(ActionJitter) {
		wait *= 1 + (c.cfg.Rand()*2-1)*jitterSpread
	}
	wait = max(wait, float64(p.RetryAfter))
	wait = min(wait, ceiling)

	return time.Duration(max(wait, 0))
}
