package evictor

import "sync/atomic"

type evictorCounters struct {
	walks        atomic.Int64
	walkErrors   atomic.Int64
	walkEmpty    atomic.Int64
	evictedPages atomic.Int64
	evictedBytes atomic.Int64
	evictFails   atomic.Int64
	appEvicted   atomic.Int64
	appWaits     atomic.Int64
	appWaitUs    atomic.Int64
	appTimeouts  atomic.Int64
}

// Metrics is a point-in-time copy of the eviction counters.
type Metrics struct {
	Walks        int64
	WalkErrors   int64
	WalkEmpty    int64
	EvictedPages int64
	EvictedBytes int64
	EvictFails   int64
	// AppEvicted counts pages evicted by application threads helping out.
	AppEvicted  int64
	AppWaits    int64
	AppWaitUs   int64
	AppTimeouts int64

	PagesQueued       int64
	PagesQueuedUrgent int64
	AlreadyQueued     int64
	ClearOrdinary     int64
	GetRef            int64
	GetRefEmpty       int64
	QueueGrows        int64

	// Wakeups counts signals to the worker condition; WaitIntervalUs is the
	// timeout the next idle worker will sleep for.
	Wakeups        int64
	WaitIntervalUs int64
}

func (c *evictorCounters) snapshot(q *queueCounters) Metrics {
	return Metrics{
		Walks:             c.walks.Load(),
		WalkErrors:        c.walkErrors.Load(),
		WalkEmpty:         c.walkEmpty.Load(),
		EvictedPages:      c.evictedPages.Load(),
		EvictedBytes:      c.evictedBytes.Load(),
		EvictFails:        c.evictFails.Load(),
		AppEvicted:        c.appEvicted.Load(),
		AppWaits:          c.appWaits.Load(),
		AppWaitUs:         c.appWaitUs.Load(),
		AppTimeouts:       c.appTimeouts.Load(),
		PagesQueued:       q.pagesQueued.Load(),
		PagesQueuedUrgent: q.pagesQueuedUrgent.Load(),
		AlreadyQueued:     q.alreadyQueued.Load(),
		ClearOrdinary:     q.clearOrdinary.Load(),
		GetRef:            q.getRef.Load(),
		GetRefEmpty:       q.getRefEmpty.Load(),
		QueueGrows:        q.grows.Load(),
	}
}

func newEvictorCounters() *evictorCounters {
	return &evictorCounters{}
}
