// Package telemetry defines the events the fetch executor publishes and the
// observers that consume them. The executor only knows the Observer
// interface; logging, Prometheus and Redis are plugged in from outside.
package telemetry

import (
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// EventType names a telemetry event.
type EventType string

const (
	EventAttempt         EventType = "attempt"
	EventSuccess         EventType = "success"
	EventRateLimit       EventType = "rate_limit"
	EventForbidden       EventType = "forbidden"
	EventFailure         EventType = "failure"
	EventStrategyApplied EventType = "strategy_applied"
	EventBackoff         EventType = "backoff"
	EventRetry           EventType = "retry"
	EventRecovered       EventType = "recovered"
	EventExhausted       EventType = "exhausted"
	EventBlocked         EventType = "blocked"
	EventBlacklisted     EventType = "blacklisted"
	EventUnblacklisted   EventType = "unblacklisted"
)

// Event is one observation from a fetch call. CallID ties together every
// event of the same Fetch invocation.
type Event struct {
	Type     EventType        `json:"type"`
	CallID   string           `json:"call_id"`
	Domain   string           `json:"domain"`
	URL      string           `json:"url,omitempty"`
	Attempt  int              `json:"attempt,omitempty"`
	Kind     domain.ErrorKind `json:"kind,omitempty"`
	Status   int              `json:"status,omitempty"`
	Strategy string           `json:"strategy,omitempty"`
	Wait     time.Duration    `json:"wait,omitempty"`
	Latency  time.Duration    `json:"latency,omitempty"`
	Message  string           `json:"message,omitempty"`
	At       time.Time        `json:"at"`
}

// Observer receives events. Implementations must be safe for concurrent use
// and must not block for long; they run on the fetch path.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
type Nop struct{}

func (Nop) Observe(Event) {}

type multi []Observer

func (m multi) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Multi fans events out to every non-nil observer.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	}
	return m
}
