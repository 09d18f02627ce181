package cond

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestAuto_IntervalBounds verifies that idle waits lengthen up to max and progress resets to min.
func TestAuto_IntervalBounds(t *testing.T) {
	a := NewAuto(10*time.Millisecond, 30*time.Millisecond)
	require.Equal(t, 10*time.Millisecond, a.Interval())

	for i := 0; i < 50; i++ {
		a.next(false)
	}
	require.Equal(t, 30*time.Millisecond, a.Interval())

	require.Equal(t, 10*time.Millisecond, a.next(true))
	require.Equal(t, 10*time.Millisecond, a.Interval())
}

// TestAuto_WaitTimesOut verifies that a waiter without a signal returns after its interval.
func TestAuto_WaitTimesOut(t *testing.T) {
	a := NewAuto(5*time.Millisecond, 20*time.Millisecond)
	start := time.Now()
	require.False(t, a.Wait(context.Background(), true))
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	require.Less(t, time.Since(start), time.Second)
}

// TestAuto_SignalWakesAll verifies that one Signal wakes every waiter.
func TestAuto_SignalWakesAll(t *testing.T) {
	a := NewAuto(time.Second, 2*time.Second)

	const waiters = 4
	var (
		wg    sync.WaitGroup
		ready sync.WaitGroup
		woken = make(chan bool, waiters)
	)
	ready.Add(waiters)
	for i := 0; i < waiters; i++ {
		wg.Go(func() {
			ch := a.C()
			ready.Done()
			select {
			case <-ch:
				woken <- true
			case <-time.After(time.Second):
				woken <- false
			}
		})
	}
	ready.Wait()
	a.Signal()
	wg.Wait()
	close(woken)
	for w := range woken {
		require.True(t, w)
	}
	require.Equal(t, uint64(1), a.Signals())
}

// TestAuto_WaitHonoursContext verifies cancellation.
func TestAuto_WaitHonoursContext(t *testing.T) {
	a := NewAuto(time.Second, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, a.Wait(ctx, false))
}

// TestNotifier verifies that each Notify closes the channel handed out before it.
func TestNotifier(t *testing.T) {
	n := NewNotifier()
	first := n.C()
	n.Notify()
	<-first

	second := n.C()
	select {
	case <-second:
		t.Fatal("fresh channel must be open")
	default:
	}
}
