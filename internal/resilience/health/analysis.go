package health

import (
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// recommendations maps a dominant failure kind to operator advice.
var recommendations = map[domain.ErrorKind]string{
	domain.KindRateLimit:     "reduce request rate or concurrency for this domain",
	domain.KindBotDetection:  "rotate user agents or proxies; consider the browser transport",
	domain.KindServerError:   "site is unstable; retry later",
	domain.KindTimeout:       "increase the request timeout or lower concurrency",
	domain.KindConnection:    "check DNS resolution and network reachability",
	domain.KindParsingError:  "review extraction logic for this site",
	domain.KindContentChange: "site layout changed; update selectors",
	domain.KindUnknown:       "inspect recent error messages",
}

// Analysis describes d's recent failures. It is for monitoring only.
func (t *Tracker) Analysis(d string) domain.DomainAnalysis {
	d = domain.NormalizeDomain(d)
	out := domain.DomainAnalysis{
		Domain:    d,
		Breakdown: make(map[domain.ErrorKind]int),
	}

	now := t.clock.Now()
	r := t.locked(d, false)
	if r == nil {
		return out
	}
	defer r.mu.Unlock()

	start := now.Add(-t.cfg.Window)
	for _, p := range r.h.ErrorHistory {
		if p.ObservedAt.Before(start) {
			continue
		}
		out.ErrorsInWindow++
		out.Breakdown[p.Kind]++
	}

	out.Blacklisted = r.h.Blacklisted
	out.PermanentlyBlocked = r.h.PermanentlyBlocked
	out.ConsecutiveFailures = r.h.ConsecutiveFailures
	out.TotalErrors = len(r.h.ErrorHistory)
	out.ErrorFrequency = float64(out.ErrorsInWindow) / t.cfg.Window.Hours()
	out.LastSuccessAt = r.h.LastSuccessAt
	out.LastRequestAt = r.h.LastRequestAt
	if r.latencyN > 0 {
		out.AverageLatency = r.latencySum / time.Duration(r.latencyN)
	}
	out.RecommendedActions = recommend(out)
	return out
}

func recommend(a domain.DomainAnalysis) []string {
	var actions []string
	if a.PermanentlyBlocked {
		actions = append(actions, "domain is permanently blocked; clear manually once resolved")
	} else if a.Blacklisted {
		actions = append(actions, "domain is blacklisted; it recovers on the next success or a manual clear")
	}

	// Advice for every kind making up at least a quarter of the window.
	for _, k := range domain.AllKinds {
		n := a.Breakdown[k]
		if n == 0 || float64(n) < 0.25*float64(a.ErrorsInWindow) {
			continue
		}
		if msg, ok := recommendations[k]; ok {
			actions = append(actions, msg)
		}
	}
	return actions
}
