// Package clock provides the time source used by pacing and backoff so tests
// can run without real sleeps.
package clock

import (
	"context"
	"time"
)

// Clock reports the current time and suspends the calling goroutine.
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until t or until ctx is done, whichever comes first.
	SleepUntil(ctx context.Context, t time.Time) error
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep waits for d on c.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return c.SleepUntil(ctx, c.Now().Add(d))
}
