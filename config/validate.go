package config

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
)

// absoluteThreshold separates percentages from absolute byte values: anything above it is absolute.
// A cache smaller than 100 bytes cannot express 100% as an absolute value; that ambiguity is accepted.
const absoluteThreshold = 100.0

// epsilon is the smallest float64 increment above 1.0.
const epsilon = 0x1p-52

// Configure validates the cache options of src into dst.
//
// When shared is true the local cache size is left untouched (the pool owns it) and every
// target/trigger must be given as a percentage. Auto-correctable combinations are clamped and,
// with debug_mode.configuration, reported; structurally invalid ones return an error marked
// ErrInvalidArgument. dst is only written when the whole pass succeeds.
func Configure(logger *slog.Logger, src Source, dst *Cache, shared bool) error {
	if dst == nil {
		return errors.AssertionFailedf("nil cache configuration")
	}
	next := *dst

	debug, err := src.Bool(KeyDebugConfiguration)
	if err != nil {
		return err
	}
	next.Debug = debug

	if !shared {
		size, err := src.Int(KeyCacheSize)
		if err != nil {
			return err
		}
		if size < 0 {
			return invalidf("cache size must not be negative")
		}
		next.SizeBytes = uint64(size)
	}

	knobs := []struct {
		key  string
		name string
		dst  *float64
	}{
		{KeyEvictionTarget, "eviction target", &next.EvictionTarget},
		{KeyEvictionTrigger, "eviction trigger", &next.EvictionTrigger},
		{KeyEvictionDirtyTarget, "eviction dirty target", &next.EvictionDirtyTarget},
		{KeyEvictionDirtyTrigger, "eviction dirty trigger", &next.EvictionDirtyTrigger},
		{KeyEvictionUpdatesTarget, "eviction updates target", &next.EvictionUpdatesTarget},
		{KeyEvictionUpdatesTrigger, "eviction updates trigger", &next.EvictionUpdatesTrigger},
		{KeyEvictionCheckpointTarget, "eviction checkpoint target", &next.EvictionCheckpointTarget},
	}
	for _, k := range knobs {
		v, err := src.Float(k.key)
		if err != nil {
			return err
		}
		if v < 0 {
			return invalidf("%s must not be negative", k.name)
		}
		if *k.dst, err = AbsToPct(v, k.name, next.SizeBytes, shared); err != nil {
			return err
		}
	}

	clamp(logger, &next)

	// The target must be lower than the trigger or eviction never gets any work done.
	if next.EvictionTarget <= 0 {
		return invalidf("eviction target must be greater than zero")
	}
	if next.EvictionTarget >= next.EvictionTrigger {
		return invalidf("eviction target must be lower than the eviction trigger")
	}
	if next.EvictionDirtyTarget >= next.EvictionDirtyTrigger {
		return invalidf("eviction dirty target must be lower than the eviction dirty trigger")
	}
	if next.EvictionUpdatesTarget >= next.EvictionUpdatesTrigger {
		return invalidf("eviction updates target must be lower than the eviction updates trigger")
	}

	overhead, err := src.Int(KeyCacheOverhead)
	if err != nil {
		return err
	}
	if overhead < 0 || overhead > MaxOverheadPct {
		return invalidf("cache overhead must be between 0 and %d", MaxOverheadPct)
	}
	next.OverheadPct = uint64(overhead)

	threadsMax, err := src.Int(KeyThreadsMax)
	if err != nil {
		return err
	}
	threadsMin, err := src.Int(KeyThreadsMin)
	if err != nil {
		return err
	}
	if threadsMin < 1 || threadsMax < 1 {
		return invalidf("eviction=(threads_min) and eviction=(threads_max) must be positive")
	}
	if threadsMax > MaxEvictThreads {
		return invalidf("eviction=(threads_max) cannot exceed %d", MaxEvictThreads)
	}
	if threadsMin > threadsMax {
		return invalidf("eviction=(threads_min) cannot be greater than eviction=(threads_max)")
	}
	next.EvictThreadsMin, next.EvictThreadsMax = uint32(threadsMin), uint32(threadsMax)

	if next.EvictSampleInMem, err = src.Bool(KeyEvictSampleInMem); err != nil {
		return err
	}

	maxWaitMs, err := src.Int(KeyCacheMaxWaitMs)
	if err != nil {
		return err
	}
	stuckMs, err := src.Int(KeyCacheStuckTimeoutMs)
	if err != nil {
		return err
	}
	if maxWaitMs < 0 || stuckMs < 0 {
		return invalidf("cache_max_wait_ms and cache_stuck_timeout_ms must not be negative")
	}
	next.MaxWaitUs = uint64(maxWaitMs) * 1000
	next.StuckTimeoutMs = uint64(stuckMs)

	logWait, err := src.Int(KeyStatisticsLogWait)
	if err != nil {
		return err
	}
	if logWait < 0 {
		return invalidf("statistics_log.wait must not be negative")
	}
	next.StatisticsLogWait = time.Duration(logWait) * time.Second

	*dst = next
	return nil
}

// AbsToPct converts an absolute byte value into a percentage of cacheSize.
// Values at or below 100 are already percentages and pass through unchanged.
func AbsToPct(v float64, name string, cacheSize uint64, shared bool) (float64, error) {
	if v <= absoluteThreshold {
		return v, nil
	}
	// A shared pool changes the cache size continuously, so only percentages are meaningful.
	if shared {
		return 0, invalidf("shared cache configuration requires a percentage value for %s", name)
	}
	if v > float64(cacheSize) {
		return 0, invalidf("%s should not exceed cache size", name)
	}
	return v * 100 / float64(cacheSize), nil
}

// clamp fixes combinations that have an obvious correct value, in a fixed order.
func clamp(logger *slog.Logger, c *Cache) {
	notice := func(msg string, attrs ...any) {
		if c.Debug && logger != nil {
			logger.Warn(msg, attrs...)
		}
	}

	if c.EvictionDirtyTarget > c.EvictionTarget {
		notice("eviction_dirty_target cannot exceed eviction_target",
			"eviction_dirty_target", c.EvictionDirtyTarget, "eviction_target", c.EvictionTarget, "set_to", c.EvictionTarget)
		c.EvictionDirtyTarget = c.EvictionTarget
	}

	if c.EvictionCheckpointTarget > 0 && c.EvictionCheckpointTarget < c.EvictionDirtyTarget {
		notice("eviction_checkpoint_target cannot be less than eviction_dirty_target",
			"eviction_checkpoint_target", c.EvictionCheckpointTarget, "eviction_dirty_target", c.EvictionDirtyTarget, "set_to", c.EvictionDirtyTarget)
		c.EvictionCheckpointTarget = c.EvictionDirtyTarget
	}

	if c.EvictionDirtyTrigger > c.EvictionTrigger {
		notice("eviction_dirty_trigger cannot exceed eviction_trigger",
			"eviction_dirty_trigger", c.EvictionDirtyTrigger, "eviction_trigger", c.EvictionTrigger, "set_to", c.EvictionTrigger)
		c.EvictionDirtyTrigger = c.EvictionTrigger
	}

	if c.EvictionUpdatesTarget < epsilon {
		notice("eviction_updates_target cannot be zero, using half of eviction_dirty_target",
			"eviction_updates_target", c.EvictionUpdatesTarget, "set_to", c.EvictionDirtyTarget/2)
		c.EvictionUpdatesTarget = c.EvictionDirtyTarget / 2
	}

	if c.EvictionUpdatesTrigger < epsilon {
		notice("eviction_updates_trigger cannot be zero, using half of eviction_dirty_trigger",
			"eviction_updates_trigger", c.EvictionUpdatesTrigger, "set_to", c.EvictionDirtyTrigger/2)
		c.EvictionUpdatesTrigger = c.EvictionDirtyTrigger / 2
	}

	if c.EvictionUpdatesTrigger > c.EvictionTrigger {
		notice("eviction_updates_trigger cannot exceed eviction_trigger",
			"eviction_updates_trigger", c.EvictionUpdatesTrigger, "eviction_trigger", c.EvictionTrigger, "set_to", c.EvictionTrigger)
		c.EvictionUpdatesTrigger = c.EvictionTrigger
	}
}

// ConfigurePool reads the shared pool settings of src.
func ConfigurePool(src Source) (*Pool, error) {
	name, ok, err := src.String(KeySharedCacheName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalidf("shared_cache.name is not set")
	}

	read := func(key string) (uint64, error) {
		v, err := src.Int(key)
		if err != nil {
			return 0, err
		}
		if v < 0 {
			return 0, invalidf("%s must not be negative", key)
		}
		return uint64(v), nil
	}

	p := &Pool{Name: name}
	if p.SizeBytes, err = read(KeySharedCacheSize); err != nil {
		return nil, err
	}
	if p.ChunkBytes, err = read(KeySharedCacheChunk); err != nil {
		return nil, err
	}
	if p.ReserveBytes, err = read(KeySharedCacheReserve); err != nil {
		return nil, err
	}
	if p.QuotaBytes, err = read(KeySharedCacheQuota); err != nil {
		return nil, err
	}

	if p.SizeBytes == 0 {
		return nil, invalidf("shared_cache.size must be positive")
	}
	if p.ReserveBytes == 0 {
		p.ReserveBytes = p.ChunkBytes
	}
	if p.QuotaBytes == 0 {
		p.QuotaBytes = p.SizeBytes
	}
	if p.ReserveBytes > p.SizeBytes {
		return nil, invalidf("shared_cache.reserve cannot exceed shared_cache.size")
	}
	if p.QuotaBytes < p.ReserveBytes {
		return nil, invalidf("shared_cache.quota cannot be lower than shared_cache.reserve")
	}
	return p, nil
}
