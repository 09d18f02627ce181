package cache

import "sync/atomic"

// counters are updated by many goroutines without any coordinating lock; a category
// may transiently lag another, so readers clamp derived values at zero.
type counters struct {
	bytesInmem      atomic.Int64
	bytesInternal   atomic.Int64
	bytesDirtyIntl  atomic.Int64
	bytesDirtyLeaf  atomic.Int64
	bytesDirtyTotal atomic.Int64 // cumulative, never decremented
	bytesUpdates    atomic.Int64
	bytesHS         atomic.Int64
	bytesImageIntl  atomic.Int64
	bytesImageLeaf  atomic.Int64
	bytesRead       atomic.Int64 // cumulative, feeds shared pool activity

	pagesInmem     atomic.Int64
	pagesEvicted   atomic.Int64
	pagesDirtyIntl atomic.Int64
	pagesDirtyLeaf atomic.Int64
}

func newCounters() *counters {
	return &counters{}
}

func load(v *atomic.Int64) uint64 {
	return uint64(max(v.Load(), 0))
}
