package config

// Option keys.
const (
	KeyCacheSize                = "cache_size"
	KeyCacheOverhead            = "cache_overhead"
	KeyEvictionTarget           = "eviction_target"
	KeyEvictionTrigger          = "eviction_trigger"
	KeyEvictionDirtyTarget      = "eviction_dirty_target"
	KeyEvictionDirtyTrigger     = "eviction_dirty_trigger"
	KeyEvictionUpdatesTarget    = "eviction_updates_target"
	KeyEvictionUpdatesTrigger   = "eviction_updates_trigger"
	KeyEvictionCheckpointTarget = "eviction_checkpoint_target"
	KeyThreadsMin               = "eviction.threads_min"
	KeyThreadsMax               = "eviction.threads_max"
	KeyEvictSampleInMem         = "eviction.evict_sample_inmem"
	KeyCacheMaxWaitMs           = "cache_max_wait_ms"
	KeyCacheStuckTimeoutMs      = "cache_stuck_timeout_ms"
	KeySharedCacheName          = "shared_cache.name"
	KeySharedCacheSize          = "shared_cache.size"
	KeySharedCacheChunk         = "shared_cache.chunk"
	KeySharedCacheReserve       = "shared_cache.reserve"
	KeySharedCacheQuota         = "shared_cache.quota"
	KeyDebugConfiguration       = "debug_mode.configuration"
	KeyStatisticsLogWait        = "statistics_log.wait"
)

// Bounds enforced on top of the target/trigger invariants.
const (
	MaxEvictThreads = 20
	MaxOverheadPct  = 30
)

// Defaults returns a fresh copy of the built-in option values.
func Defaults() map[string]any {
	return map[string]any{
		KeyCacheSize:                int64(100 << 20),
		KeyCacheOverhead:            int64(8),
		KeyEvictionTarget:           80.0,
		KeyEvictionTrigger:          95.0,
		KeyEvictionDirtyTarget:      5.0,
		KeyEvictionDirtyTrigger:     20.0,
		KeyEvictionUpdatesTarget:    0.0,
		KeyEvictionUpdatesTrigger:   0.0,
		KeyEvictionCheckpointTarget: 1.0,
		KeyThreadsMin:               int64(4),
		KeyThreadsMax:               int64(4),
		KeyEvictSampleInMem:         true,
		KeyCacheMaxWaitMs:           int64(0),
		KeyCacheStuckTimeoutMs:      int64(300000),
		KeySharedCacheName:          "none",
		KeySharedCacheSize:          int64(500 << 20),
		KeySharedCacheChunk:         int64(10 << 20),
		KeySharedCacheReserve:       int64(0),
		KeySharedCacheQuota:         int64(0),
		KeyDebugConfiguration:       false,
		KeyStatisticsLogWait:        int64(0),
	}
}
