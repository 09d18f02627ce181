package cache

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/model"
)

// Read generations. The lowest values are reserved: a page carrying ReadGenEvictSoon is evicted first.
const (
	ReadGenNotSet    uint64 = 0
	ReadGenEvictSoon uint64 = 1
	ReadGenStart     uint64 = 100
)

// Store is the cache state of a single connection. It is owned by the connection and handed
// to every subsystem explicitly. No accessor takes a lock.
type Store struct {
	logger   *slog.Logger
	cfg      atomic.Pointer[config.Cache]
	size     atomic.Uint64
	counters *counters

	state      atomic.Uint32
	checkpoint atomic.Bool

	readGen       atomic.Uint64
	readGenOldest atomic.Uint64

	aggressiveScore atomic.Uint32
	emptyScore      atomic.Uint32
	workersBest     atomic.Uint32

	evictMaxPageSize atomic.Uint64
	evictMaxMs       atomic.Uint64
	reentryHSMs      atomic.Uint64
	recMaxMs         atomic.Uint64
	recMaxHSWrapupMs atomic.Uint64
	recMaxImageMs    atomic.Uint64
}

func New(logger *slog.Logger, cfg *config.Cache) *Store {
	s := &Store{logger: logger, counters: newCounters()}
	s.cfg.Store(cfg)
	s.size.Store(cfg.SizeBytes)
	s.readGen.Store(ReadGenStart)
	s.readGenOldest.Store(ReadGenStart)
	return s
}

// Config returns the configuration currently in effect.
func (s *Store) Config() *config.Cache { return s.cfg.Load() }

// SetConfig installs a freshly validated configuration. The local size follows it
// unless a shared pool governs the connection.
func (s *Store) SetConfig(cfg *config.Cache) {
	s.cfg.Store(cfg)
	if !cfg.Shared() {
		s.size.Store(cfg.SizeBytes)
	}
	s.UpdateState()
}

// Size is the byte budget of the connection.
func (s *Store) Size() uint64 { return s.size.Load() }

// SetSize overwrites the byte budget; used by the shared pool.
func (s *Store) SetSize(n uint64) {
	s.size.Store(n)
	s.UpdateState()
}

/**
 * Accounting, called by application threads and the eviction subsystem.
 */

// AddPage accounts a page read into memory.
func (s *Store) AddPage(f model.Footprint) {
	c := s.counters
	c.pagesInmem.Add(1)
	c.bytesInmem.Add(f.Size)
	c.bytesRead.Add(f.Size)
	if f.Internal {
		c.bytesInternal.Add(f.Size)
		c.bytesImageIntl.Add(f.Image)
	} else {
		c.bytesImageLeaf.Add(f.Image)
	}
	if f.Updates != 0 {
		c.bytesUpdates.Add(f.Updates)
	}
	if f.History {
		c.bytesHS.Add(f.Size)
	}
	if f.Dirty {
		s.MarkDirty(f)
	}
}

// RemovePage accounts a page leaving memory.
func (s *Store) RemovePage(f model.Footprint) {
	c := s.counters
	c.pagesEvicted.Add(1)
	c.bytesInmem.Add(-f.Size)
	if f.Internal {
		c.bytesInternal.Add(-f.Size)
		c.bytesImageIntl.Add(-f.Image)
	} else {
		c.bytesImageLeaf.Add(-f.Image)
	}
	if f.Updates != 0 {
		c.bytesUpdates.Add(-f.Updates)
	}
	if f.History {
		c.bytesHS.Add(-f.Size)
	}
	if f.Dirty {
		s.MarkClean(f)
	}
}

// MarkDirty accounts a clean page becoming dirty.
func (s *Store) MarkDirty(f model.Footprint) {
	c := s.counters
	if f.Internal {
		c.pagesDirtyIntl.Add(1)
		c.bytesDirtyIntl.Add(f.Size)
	} else {
		c.pagesDirtyLeaf.Add(1)
		c.bytesDirtyLeaf.Add(f.Size)
	}
	c.bytesDirtyTotal.Add(f.Size)
}

// MarkClean accounts a dirty page having been written.
func (s *Store) MarkClean(f model.Footprint) {
	c := s.counters
	if f.Internal {
		c.pagesDirtyIntl.Add(-1)
		c.bytesDirtyIntl.Add(-f.Size)
	} else {
		c.pagesDirtyLeaf.Add(-1)
		c.bytesDirtyLeaf.Add(-f.Size)
	}
}

// AddUpdates accounts n bytes of updates attached to page f (negative when an update chain is freed).
// f must describe the page before the change; the caller then grows f.Size and f.Updates by n.
func (s *Store) AddUpdates(f model.Footprint, n int64) {
	c := s.counters
	c.bytesInmem.Add(n)
	c.bytesUpdates.Add(n)
	if f.Internal {
		c.bytesInternal.Add(n)
	}
	if f.Dirty {
		if f.Internal {
			c.bytesDirtyIntl.Add(n)
		} else {
			c.bytesDirtyLeaf.Add(n)
		}
		if n > 0 {
			c.bytesDirtyTotal.Add(n)
		}
	}
}

/**
 * Derived accessors. Each one reads individual atomics; results may be skewed
 * against each other by in-flight updates.
 */

func (s *Store) plusOverhead(v uint64) uint64 {
	if pct := s.Config().OverheadPct; pct != 0 {
		v += v * pct / 100
	}
	return v
}

func (s *Store) BytesInuse() uint64 { return s.plusOverhead(load(&s.counters.bytesInmem)) }

func (s *Store) BytesInternal() uint64 { return s.plusOverhead(load(&s.counters.bytesInternal)) }

// BytesLeaf is derived from in-use and internal bytes, clamped at zero.
func (s *Store) BytesLeaf() uint64 {
	inuse, intl := s.BytesInuse(), s.BytesInternal()
	if inuse > intl {
		return inuse - intl
	}
	return 0
}

func (s *Store) BytesDirty() uint64 {
	return s.plusOverhead(load(&s.counters.bytesDirtyIntl) + load(&s.counters.bytesDirtyLeaf))
}

func (s *Store) BytesDirtyLeaf() uint64 { return s.plusOverhead(load(&s.counters.bytesDirtyLeaf)) }

func (s *Store) BytesDirtyTotal() uint64 { return s.plusOverhead(load(&s.counters.bytesDirtyTotal)) }

func (s *Store) BytesUpdates() uint64 { return s.plusOverhead(load(&s.counters.bytesUpdates)) }

func (s *Store) BytesHS() uint64 { return s.plusOverhead(load(&s.counters.bytesHS)) }

func (s *Store) BytesImage() uint64 {
	return s.plusOverhead(load(&s.counters.bytesImageIntl) + load(&s.counters.bytesImageLeaf))
}

// BytesOther is memory not belonging to page images.
func (s *Store) BytesOther() uint64 {
	inmem := load(&s.counters.bytesInmem)
	image := load(&s.counters.bytesImageIntl) + load(&s.counters.bytesImageLeaf)
	if inmem > image {
		return s.plusOverhead(inmem - image)
	}
	return 0
}

func (s *Store) PagesInuse() uint64 {
	in, out := load(&s.counters.pagesInmem), load(&s.counters.pagesEvicted)
	if in > out {
		return in - out
	}
	return 0
}

func (s *Store) PagesEvicted() uint64 { return load(&s.counters.pagesEvicted) }

func (s *Store) PagesDirty() uint64 {
	return load(&s.counters.pagesDirtyIntl) + load(&s.counters.pagesDirtyLeaf)
}

// BytesRead is the cumulative number of bytes read into the cache.
func (s *Store) BytesRead() uint64 { return load(&s.counters.bytesRead) }

/**
 * Eviction state.
 */

// Usage returns the in-use, dirty and updates bytes as percentages of the cache size.
func (s *Store) Usage() (inuse, dirty, updates float64) {
	// +1 keeps a zero-sized cache (a pool member without a share yet) permanently over its limits.
	limit := float64(s.Size() + 1)
	return float64(s.BytesInuse()) * 100 / limit,
		float64(s.BytesDirty()) * 100 / limit,
		float64(s.BytesUpdates()) * 100 / limit
}

// DirtyTarget is the dirty target in effect: relaxed while a checkpoint is running.
func (s *Store) DirtyTarget() float64 {
	cfg := s.Config()
	if s.checkpoint.Load() && cfg.EvictionCheckpointTarget > 0 {
		return cfg.EvictionCheckpointTarget
	}
	return cfg.EvictionDirtyTarget
}

// SetCheckpointRunning toggles the relaxed dirty target.
func (s *Store) SetCheckpointRunning(running bool) {
	s.checkpoint.Store(running)
	s.UpdateState()
}

// State returns the current flag set.
func (s *Store) State() State { return State(s.state.Load()) }

// UpdateState recomputes the usage flags from the counters, keeping flags owned by the eviction workers.
func (s *Store) UpdateState() State {
	cfg := s.Config()
	inuse, dirty, updates := s.Usage()

	var computed State
	if inuse > cfg.EvictionTarget {
		computed |= StateClean
	}
	if inuse > cfg.EvictionTrigger {
		computed |= StateCleanHard
	}
	if dirty > s.DirtyTarget() {
		computed |= StateDirty
	}
	if dirty > cfg.EvictionDirtyTrigger {
		computed |= StateDirtyHard
	}
	if updates > cfg.EvictionUpdatesTarget {
		computed |= StateUpdates
	}
	if updates > cfg.EvictionUpdatesTrigger {
		computed |= StateUpdatesHard
	}
	if computed.Has(StateDirty) && inuse < (cfg.EvictionTarget+cfg.EvictionTrigger)/2 {
		computed |= StateScrub
	}

	for {
		old := s.state.Load()
		next := old&^uint32(stateComputed) | uint32(computed)
		if s.state.CompareAndSwap(old, next) {
			return State(next)
		}
	}
}

// SetAggressive toggles the worker-owned aggressive flag.
func (s *Store) SetAggressive(on bool) {
	for {
		old := s.state.Load()
		next := old &^ uint32(StateAggressive)
		if on {
			next |= uint32(StateAggressive)
		}
		if s.state.CompareAndSwap(old, next) {
			return
		}
	}
}

/**
 * Read generation clock.
 */

func (s *Store) ReadGen() uint64 { return s.readGen.Load() }

// NextReadGen advances the clock and returns the new generation.
func (s *Store) NextReadGen() uint64 { return s.readGen.Add(1) }

func (s *Store) ReadGenOldest() uint64 { return s.readGenOldest.Load() }

// SetReadGenOldest records the oldest generation seen by a walk; reserved values are ignored.
func (s *Store) SetReadGenOldest(gen uint64) {
	if gen >= ReadGenStart {
		s.readGenOldest.Store(gen)
	}
}

/**
 * Tuning telemetry.
 */

func (s *Store) AggressiveScore() uint32     { return s.aggressiveScore.Load() }
func (s *Store) SetAggressiveScore(v uint32) { s.aggressiveScore.Store(v) }
func (s *Store) EmptyScore() uint32          { return s.emptyScore.Load() }
func (s *Store) SetEmptyScore(v uint32)      { s.emptyScore.Store(v) }
func (s *Store) WorkersBest() uint32         { return s.workersBest.Load() }
func (s *Store) SetWorkersBest(v uint32)     { s.workersBest.Store(v) }

// ObserveEviction records the size and duration of a single eviction.
func (s *Store) ObserveEviction(pageSize int64, took time.Duration) {
	storeMax(&s.evictMaxPageSize, uint64(max(pageSize, 0)))
	storeMax(&s.evictMaxMs, uint64(took.Milliseconds()))
}

// ObserveHSReentry records the duration of a history store eviction entered from within another eviction.
func (s *Store) ObserveHSReentry(took time.Duration) {
	storeMax(&s.reentryHSMs, uint64(took.Milliseconds()))
}

// ObserveReconcile records reconciliation timings reported by the write path.
func (s *Store) ObserveReconcile(total, hsWrapup, imageBuild time.Duration) {
	storeMax(&s.recMaxMs, uint64(total.Milliseconds()))
	storeMax(&s.recMaxHSWrapupMs, uint64(hsWrapup.Milliseconds()))
	storeMax(&s.recMaxImageMs, uint64(imageBuild.Milliseconds()))
}

func (s *Store) EvictMaxPageSize() uint64 { return s.evictMaxPageSize.Load() }
func (s *Store) EvictMaxMs() uint64       { return s.evictMaxMs.Load() }
func (s *Store) ReentryHSMs() uint64      { return s.reentryHSMs.Load() }

// ReconcileMaxima returns the maxima in milliseconds: total, history store wrapup, image build.
func (s *Store) ReconcileMaxima() (total, hsWrapup, imageBuild uint64) {
	return s.recMaxMs.Load(), s.recMaxHSWrapupMs.Load(), s.recMaxImageMs.Load()
}

func storeMax(v *atomic.Uint64, n uint64) {
	for {
		old := v.Load()
		if n <= old || v.CompareAndSwap(old, n) {
			return
		}
	}
}

// Destroy checks that every page and byte left the cache. Leaks are logged and returned;
// they never prevent shutdown.
func (s *Store) Destroy() (leaks []string) {
	c := s.counters
	if in, out := c.pagesInmem.Load(), c.pagesEvicted.Load(); in != out {
		leaks = append(leaks, fmt.Sprintf("exiting with %d pages in memory and %d pages evicted", in, out))
	}
	if n := c.bytesImageIntl.Load() + c.bytesImageLeaf.Load(); n != 0 {
		leaks = append(leaks, fmt.Sprintf("exiting with %d image bytes in memory", n))
	}
	if n := c.bytesInmem.Load(); n != 0 {
		leaks = append(leaks, fmt.Sprintf("exiting with %d bytes in memory", n))
	}
	dirtyBytes := c.bytesDirtyIntl.Load() + c.bytesDirtyLeaf.Load()
	dirtyPages := c.pagesDirtyIntl.Load() + c.pagesDirtyLeaf.Load()
	if dirtyBytes != 0 || dirtyPages != 0 {
		leaks = append(leaks, fmt.Sprintf("exiting with %d bytes dirty and %d pages dirty", dirtyBytes, dirtyPages))
	}

	for _, leak := range leaks {
		s.logger.Error("cache accounting leak", "detail", leak)
	}
	return leaks
}
