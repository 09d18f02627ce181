package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestQueue_Init verifies queue initialization.
func TestQueue_Init(t *testing.T) {
	var q Queue[uint64]
	q.Init(10)

	require.Equal(t, 10, q.Cap())
	require.Equal(t, 0, q.Len())
}

// TestQueue_Init_MinSize verifies that Init enforces minimum size.
func TestQueue_Init_MinSize(t *testing.T) {
	var q Queue[uint64]
	q.Init(0)
	require.Equal(t, 1, q.Cap())
}

// TestQueue_TryPushTryPop verifies FIFO order.
func TestQueue_TryPushTryPop(t *testing.T) {
	var q Queue[uint64]
	q.Init(10)

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.True(t, q.TryPush(3))

	for _, want := range []uint64{1, 2, 3} {
		val, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, want, val)
	}

	_, ok := q.TryPop()
	require.False(t, ok)
}

// TestQueue_Full verifies that every slot is usable and TryPush fails after that.
func TestQueue_Full(t *testing.T) {
	var q Queue[uint64]
	q.Init(3)

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.True(t, q.TryPush(3))
	require.False(t, q.TryPush(4))
	require.Equal(t, q.Cap(), q.Len())
}

// TestQueue_WrapAround verifies circular buffer behavior.
func TestQueue_WrapAround(t *testing.T) {
	var q Queue[uint64]
	q.Init(3)

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	val, _ := q.TryPop()
	require.Equal(t, uint64(1), val)

	require.True(t, q.TryPush(3))
	require.True(t, q.TryPush(4))

	for _, want := range []uint64{2, 3, 4} {
		val, _ = q.TryPop()
		require.Equal(t, want, val)
	}
}

// TestQueue_Grow verifies that growth keeps order across a wrapped ring.
func TestQueue_Grow(t *testing.T) {
	var q Queue[int]
	q.Init(3)
	q.TryPush(1)
	q.TryPush(2)
	q.TryPop()
	q.TryPush(3)
	q.TryPush(4) // wrapped: [4 2 3] with tail at 1

	q.Grow(2)
	require.Equal(t, 5, q.Cap())
	require.True(t, q.TryPush(5))
	require.True(t, q.TryPush(6))
	require.False(t, q.TryPush(7))

	for _, want := range []int{2, 3, 4, 5, 6} {
		v, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

// TestQueue_Filter verifies that dropped values are returned and the rest keep their order.
func TestQueue_Filter(t *testing.T) {
	var q Queue[int]
	q.Init(4)
	q.TryPush(9)
	q.TryPop()
	for _, v := range []int{1, 2, 3, 4} {
		require.True(t, q.TryPush(v))
	}

	dropped := q.Filter(func(v int) bool { return v%2 == 0 })
	require.Equal(t, []int{2, 4}, dropped)
	require.Equal(t, 2, q.Len())

	require.True(t, q.TryPush(5))
	for _, want := range []int{1, 3, 5} {
		v, _ := q.TryPop()
		require.Equal(t, want, v)
	}
}

// TestQueue_Concurrent verifies that concurrent producers and consumers lose nothing.
func TestQueue_Concurrent(t *testing.T) {
	var q Queue[int]
	q.Init(64)

	const producers, perProducer = 8, 1000
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		popped int
		done   = make(chan struct{})
	)
	for i := 0; i < producers; i++ {
		wg.Go(func() {
			for j := 0; j < perProducer; {
				if q.TryPush(j) {
					j++
				}
			}
		})
	}
	var consumers sync.WaitGroup
	for i := 0; i < 4; i++ {
		consumers.Go(func() {
			for {
				if _, ok := q.TryPop(); ok {
					mu.Lock()
					popped++
					mu.Unlock()
					continue
				}
				select {
				case <-done:
					return
				default:
				}
			}
		})
	}
	wg.Wait()
	close(done)
	consumers.Wait()
	for {
		if _, ok := q.TryPop(); !ok {
			break
		}
		popped++
	}
	require.Equal(t, producers*perProducer, popped)
}
