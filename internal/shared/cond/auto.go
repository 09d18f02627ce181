package cond

import (
	"context"
	"sync/atomic"
	"time"
)

// Auto is a timed condition whose wait interval tunes itself between min and max:
// a wait that follows progress starts again from min, every idle wait lengthens the
// next one by a twentieth of the range. Waiters are never parked without a timeout.
type Auto struct {
	*Notifier
	min, max time.Duration
	step     time.Duration
	interval atomic.Int64
	signals  atomic.Uint64
}

func NewAuto(lo, hi time.Duration) *Auto {
	if hi < lo {
		hi = lo
	}
	a := &Auto{
		Notifier: NewNotifier(),
		min:      lo,
		max:      hi,
		step:     max(time.Millisecond, (hi-lo)/20),
	}
	a.interval.Store(int64(lo))
	return a
}

// Signal wakes all waiters.
func (a *Auto) Signal() {
	a.signals.Add(1)
	a.Notify()
}

// Wait blocks until a signal, the current interval elapses or ctx is done.
// progress tells whether the caller's previous pass achieved anything.
func (a *Auto) Wait(ctx context.Context, progress bool) (signalled bool) {
	ch := a.C()
	d := a.next(progress)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func (a *Auto) next(progress bool) time.Duration {
	for {
		old := a.interval.Load()
		next := time.Duration(old) + a.step
		if progress {
			next = a.min
		}
		next = min(max(next, a.min), a.max)
		if a.interval.CompareAndSwap(old, int64(next)) {
			return next
		}
	}
}

// Interval is the wait the next idle waiter will use.
func (a *Auto) Interval() time.Duration { return time.Duration(a.interval.Load()) }

func (a *Auto) Signals() uint64 { return a.signals.Load() }
