package telemetry

import (
	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/internal/evictor"
)

// Evictor is the part of the eviction worker pool the statistics read.
type Evictor interface {
	ActiveWorkers() uint32
	ActiveWalks() int
	Metrics() evictor.Metrics
}

// Stats is a point-in-time view of the cache. Counters are read one by one without
// locks, so categories may be slightly skewed against each other.
type Stats struct {
	BytesMax        uint64
	BytesInuse      uint64
	OverheadPct     uint64
	BytesDirty      uint64
	BytesDirtyTotal uint64
	BytesHS         uint64
	BytesImage      uint64
	BytesInternal   uint64
	BytesLeaf       uint64
	BytesOther      uint64
	BytesUpdates    uint64
	BytesRead       uint64

	PagesInuse   uint64
	PagesDirty   uint64
	PagesEvicted uint64

	State           cache.State
	ReadGen         uint64
	AggressiveScore uint32
	EmptyScore      uint32
	ActiveWorkers   uint32
	StableWorkers   uint32
	ActiveWalks     int

	EvictMaxPageSize uint64
	EvictMaxMs       uint64
	ReentryHSMs      uint64
	RecMaxMs         uint64
	RecMaxHSWrapupMs uint64
	RecMaxImageMs    uint64

	Eviction evictor.Metrics
}

// Collect reads every statistic from the store and the worker pool. ev may be nil.
func Collect(store *cache.Store, ev Evictor) Stats {
	s := Stats{
		BytesMax:         store.Size(),
		BytesInuse:       store.BytesInuse(),
		OverheadPct:      store.Config().OverheadPct,
		BytesDirty:       store.BytesDirty(),
		BytesDirtyTotal:  store.BytesDirtyTotal(),
		BytesHS:          store.BytesHS(),
		BytesImage:       store.BytesImage(),
		BytesInternal:    store.BytesInternal(),
		BytesLeaf:        store.BytesLeaf(),
		BytesOther:       store.BytesOther(),
		BytesUpdates:     store.BytesUpdates(),
		BytesRead:        store.BytesRead(),
		PagesInuse:       store.PagesInuse(),
		PagesDirty:       store.PagesDirty(),
		PagesEvicted:     store.PagesEvicted(),
		State:            store.State(),
		ReadGen:          store.ReadGen(),
		AggressiveScore:  store.AggressiveScore(),
		EmptyScore:       store.EmptyScore(),
		StableWorkers:    store.WorkersBest(),
		EvictMaxPageSize: store.EvictMaxPageSize(),
		EvictMaxMs:       store.EvictMaxMs(),
		ReentryHSMs:      store.ReentryHSMs(),
	}
	s.RecMaxMs, s.RecMaxHSWrapupMs, s.RecMaxImageMs = store.ReconcileMaxima()
	if ev != nil {
		s.ActiveWorkers = ev.ActiveWorkers()
		s.ActiveWalks = ev.ActiveWalks()
		s.Eviction = ev.Metrics()
	}
	return s
}
