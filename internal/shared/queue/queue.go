package queue

import "sync"

// Queue is a fixed-capacity ring of slots guarded by its own mutex.
// Capacity only changes through Grow, which reallocates in place under the lock.
type Queue[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int
	n          int
}

func (q *Queue[T]) Init(size int) {
	if size < 1 {
		size = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = make([]T, size)
	q.head, q.tail, q.n = 0, 0, 0
}

// TryPush appends v; returns false when every slot is taken.
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(v)
}

func (q *Queue[T]) pushLocked(v T) bool {
	if q.n == len(q.buf) {
		return false
	}
	q.buf[q.head] = v
	q.head = (q.head + 1) % len(q.buf)
	q.n++
	return true
}

func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.tail]
	q.buf[q.tail] = zero
	q.tail = (q.tail + 1) % len(q.buf)
	q.n--
	return v, true
}

// Grow adds incr slots, keeping the queued values in order.
func (q *Queue[T]) Grow(incr int) {
	if incr <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	next := make([]T, len(q.buf)+incr)
	for i := 0; i < q.n; i++ {
		next[i] = q.buf[(q.tail+i)%len(q.buf)]
	}
	q.buf = next
	q.tail, q.head = 0, q.n%len(next)
}

// Filter removes the values for which drop returns true and returns them.
func (q *Queue[T]) Filter(drop func(T) bool) (dropped []T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	kept := 0
	for i := 0; i < q.n; i++ {
		idx := (q.tail + i) % len(q.buf)
		v := q.buf[idx]
		q.buf[idx] = zero
		if drop(v) {
			dropped = append(dropped, v)
			continue
		}
		q.buf[(q.tail+kept)%len(q.buf)] = v
		kept++
	}
	q.n = kept
	q.head = (q.tail + kept) % len(q.buf)
	return dropped
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
