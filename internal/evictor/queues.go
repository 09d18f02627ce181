package evictor

import (
	"sync"
	"sync/atomic"

	"github.com/Borislavv/go-ash-evict/internal/shared/queue"
	"github.com/Borislavv/go-ash-evict/model"
)

// Queue sizing: every queue starts with WalkBase+WalkIncr slots and the ordinary
// queues grow by WalkIncr after exhaustedToGrow consecutive refills overflowed.
const (
	WalkBase        = 300
	WalkIncr        = 100
	exhaustedToGrow = 2
)

type Role int

const (
	RoleCurrent Role = iota // being drained
	RoleOther               // being refilled by a walk
	RoleUrgent              // forced candidates, drained first
)

func (r Role) String() string {
	switch r {
	case RoleCurrent:
		return "current"
	case RoleOther:
		return "other"
	case RoleUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

type queueCounters struct {
	pagesQueued       atomic.Int64
	pagesQueuedUrgent atomic.Int64
	alreadyQueued     atomic.Int64
	clearOrdinary     atomic.Int64
	getRef            atomic.Int64
	getRefEmpty       atomic.Int64
	grows             atomic.Int64
}

// QueueSet holds the double-buffered ordinary queues and the urgent queue.
// mu guards the current/other roles: drains hold it shared, swaps and ordinary refills
// hold it exclusively. Each queue additionally has its own lock around slot mutation.
type QueueSet struct {
	mu        sync.RWMutex
	queues    [2]queue.Queue[model.Candidate]
	current   *queue.Queue[model.Candidate]
	other     *queue.Queue[model.Candidate]
	urgent    queue.Queue[model.Candidate]
	exhausted int

	onEmpty  func()
	counters queueCounters
}

// NewQueueSet allocates the queues; onEmpty is called (without locks held) whenever a drain
// finds the current queue empty, to ask for a walk.
func NewQueueSet(onEmpty func()) *QueueSet {
	s := &QueueSet{onEmpty: onEmpty}
	for i := range s.queues {
		s.queues[i].Init(WalkBase + WalkIncr)
	}
	s.urgent.Init(WalkBase + WalkIncr)
	s.current, s.other = &s.queues[0], &s.queues[1]
	return s
}

// Refill queues walk-nominated candidates into the queue playing role, up to its capacity.
// Candidates already sitting in a queue are skipped; overflow is dropped for the next walk.
func (s *QueueSet) Refill(role Role, cands []model.Candidate) (queued int) {
	if role == RoleUrgent {
		for _, c := range cands {
			if s.PushUrgent(c) {
				queued++
			}
		}
		return queued
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.other
	if role == RoleCurrent {
		q = s.current
	}

	full := false
	for _, c := range cands {
		if !c.MarkQueued() {
			s.counters.alreadyQueued.Add(1)
			continue
		}
		if !q.TryPush(c) {
			c.ClearQueued()
			full = true
			break
		}
		queued++
	}
	s.counters.pagesQueued.Add(int64(queued))

	if !full {
		s.exhausted = 0
	} else if s.exhausted++; s.exhausted >= exhaustedToGrow {
		s.growLocked()
	}
	return queued
}

func (s *QueueSet) growLocked() {
	for i := range s.queues {
		s.queues[i].Grow(WalkIncr)
	}
	s.exhausted = 0
	s.counters.grows.Add(1)
}

// PushUrgent queues c for forced eviction, pulling it out of an ordinary queue if needed.
// Returns false when the urgent queue is full.
func (s *QueueSet) PushUrgent(c model.Candidate) bool {
	if !c.MarkQueued() {
		key := c.Key()
		s.mu.Lock()
		removed := len(s.current.Filter(sameKey(key))) + len(s.other.Filter(sameKey(key)))
		s.mu.Unlock()
		if removed == 0 {
			// already urgent, or being evicted right now
			s.counters.alreadyQueued.Add(1)
			return false
		}
		s.counters.clearOrdinary.Add(int64(removed))
	}
	if !s.urgent.TryPush(c) {
		c.ClearQueued()
		return false
	}
	s.counters.pagesQueuedUrgent.Add(1)
	return true
}

func sameKey(key model.PageKey) func(model.Candidate) bool {
	return func(c model.Candidate) bool { return c.Key() == key }
}

// DrainOne pops the next candidate: urgent first, then the current queue. When the current
// queue is empty it swaps roles with the other queue and asks for a refill.
// ok=false means there are no candidates at all, a legitimate transient state.
func (s *QueueSet) DrainOne() (c model.Candidate, ok bool) {
	s.counters.getRef.Add(1)

	if c, ok = s.urgent.TryPop(); ok {
		c.ClearQueued()
		return c, true
	}

	s.mu.RLock()
	c, ok = s.current.TryPop()
	s.mu.RUnlock()
	if ok {
		c.ClearQueued()
		return c, true
	}

	s.mu.Lock()
	if s.current.Len() == 0 && s.other.Len() > 0 {
		s.current, s.other = s.other, s.current
	}
	c, ok = s.current.TryPop()
	s.mu.Unlock()

	if s.onEmpty != nil {
		s.onEmpty()
	}
	if !ok {
		s.counters.getRefEmpty.Add(1)
		return nil, false
	}
	c.ClearQueued()
	return c, true
}

// NeedsRefill reports whether the other queue is empty and a walk would be useful.
func (s *QueueSet) NeedsRefill() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.other.Len() == 0 || s.current.Len() == 0
}

// Len returns the number of candidates queued in role.
func (s *QueueSet) Len(role Role) int {
	if role == RoleUrgent {
		return s.urgent.Len()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if role == RoleCurrent {
		return s.current.Len()
	}
	return s.other.Len()
}

// Slots is the capacity of each ordinary queue.
func (s *QueueSet) Slots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Cap()
}

// Purge drops every queued candidate matching drop, e.g. the pages of a tree being closed.
func (s *QueueSet) Purge(drop func(model.Candidate) bool) int {
	s.mu.Lock()
	dropped := s.current.Filter(drop)
	dropped = append(dropped, s.other.Filter(drop)...)
	s.mu.Unlock()
	dropped = append(dropped, s.urgent.Filter(drop)...)

	for _, c := range dropped {
		c.ClearQueued()
	}
	return len(dropped)
}

// Clear drops every queued candidate.
func (s *QueueSet) Clear() int {
	return s.Purge(func(model.Candidate) bool { return true })
}
