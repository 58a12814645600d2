package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vietddude/crawlguard/internal/core/clock"
)

// laneCapacity is the fixed weight of a lane's semaphore. The lane holds
// laneCapacity-limit of it itself so that exactly limit callers fit.
const laneCapacity = 1 << 16

// lane is the per-domain admission state.
type lane struct {
	sem *semaphore.Weighted
	lim *rate.Limiter // burst 1, refilled once per gap

	mu       sync.Mutex
	limit    int
	reserved int64 // weight held by the lane
	pending  int64 // weight a background reserve is still waiting for
	inFlight int
	waiting  int
	dead     bool // pruned; callers must look the domain up again

	lastAt       time.Time // latest instant handed to lim
	lastDispatch time.Time
	holdUntil    time.Time
	dispatched   int64
}

func newLane() *lane {
	l := &lane{
		sem:      semaphore.NewWeighted(laneCapacity),
		lim:      rate.NewLimiter(rate.Every(time.Second), 1),
		limit:    1,
		reserved: laneCapacity - 1,
	}
	l.sem.TryAcquire(l.reserved)
	return l
}

// resizeLocked moves the lane's own weight so the semaphore admits limit
// callers. When shrinking cannot take the weight right away it returns the
// shortfall, already counted as pending, for the caller to acquire on the
// lane's behalf ahead of its own slot. Must hold mu.
func (l *lane) resizeLocked(limit int) int64 {
	l.limit = min(max(limit, 1), laneCapacity-1)

	want := int64(laneCapacity - l.limit)
	have := l.reserved + l.pending
	if want <= have {
		l.trimLocked()
		return 0
	}
	n := want - have
	if l.sem.TryAcquire(n) {
		l.reserved += n
		return 0
	}
	l.pending += n
	return n
}

// trimLocked gives back reserved weight the current limit no longer needs.
// Must hold mu.
func (l *lane) trimLocked() {
	want := int64(laneCapacity - l.limit)
	if n := min(l.reserved+l.pending-want, l.reserved); n > 0 {
		l.reserved -= n
		l.sem.Release(n)
	}
}

// admit takes a concurrency slot, queueing FIFO behind earlier waiters.
// The caller has already counted itself in waiting.
func (l *lane) admit(ctx context.Context, limit int) error {
	l.mu.Lock()
	short := l.resizeLocked(limit)
	l.mu.Unlock()

	err := l.sem.Acquire(ctx, 1+short)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiting--
	l.pending -= short
	if err != nil {
		return err
	}
	l.reserved += short
	l.inFlight++
	l.trimLocked()
	return nil
}

func (l *lane) release() {
	l.mu.Lock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	l.mu.Unlock()
	l.sem.Release(1)
}

// space reserves the next dispatch slot on the limiter, sleeps until it and
// returns the dispatch time. A hold that lands while sleeping sends the
// caller back for a fresh reservation after the hold.
func (l *lane) space(ctx context.Context, clk clock.Clock, gap time.Duration) (time.Time, error) {
	for {
		l.mu.Lock()
		at := l.advanceLocked(clk)
		if l.holdUntil.After(at) {
			at = l.holdUntil
			l.lastAt = at
		}
		var r *rate.Reservation
		dispatchAt := at
		if gap > 0 {
			l.lim.SetLimitAt(at, rate.Every(gap))
			r = l.lim.ReserveN(at, 1)
			dispatchAt = at.Add(r.DelayFrom(at).Round(time.Microsecond))
		}
		l.mu.Unlock()

		if err := clk.SleepUntil(ctx, dispatchAt); err != nil {
			l.mu.Lock()
			l.cancelLocked(clk, r)
			l.mu.Unlock()
			return time.Time{}, err
		}

		l.mu.Lock()
		if l.holdUntil.After(dispatchAt) {
			l.cancelLocked(clk, r)
			l.mu.Unlock()
			continue
		}
		if dispatchAt.After(l.lastDispatch) {
			l.lastDispatch = dispatchAt
		}
		l.dispatched++
		l.mu.Unlock()
		return dispatchAt, nil
	}
}

// advanceLocked returns the current instant, never earlier than one already
// given to the limiter. Must hold mu.
func (l *lane) advanceLocked(clk clock.Clock) time.Time {
	if now := clk.Now(); now.After(l.lastAt) {
		l.lastAt = now
	}
	return l.lastAt
}

// cancelLocked hands an unused reservation back to the limiter. Must hold mu.
func (l *lane) cancelLocked(clk clock.Clock, r *rate.Reservation) {
	if r != nil {
		r.CancelAt(l.advanceLocked(clk))
	}
}
