package config

import "time"

// Cache is the validated cache configuration of one connection.
// Every target/trigger is stored as a percentage of the cache size.
type Cache struct {
	// SizeBytes is the local cache budget. Zero while the connection is governed by a shared pool
	// until the pool assigns it a share.
	SizeBytes uint64 `yaml:"cache_size"`

	// OverheadPct is added to accounted bytes to approximate allocator overhead.
	OverheadPct uint64 `yaml:"cache_overhead"`

	EvictionTarget           float64 `yaml:"eviction_target"`
	EvictionTrigger          float64 `yaml:"eviction_trigger"`
	EvictionDirtyTarget      float64 `yaml:"eviction_dirty_target"`
	EvictionDirtyTrigger     float64 `yaml:"eviction_dirty_trigger"`
	EvictionUpdatesTarget    float64 `yaml:"eviction_updates_target"`
	EvictionUpdatesTrigger   float64 `yaml:"eviction_updates_trigger"`
	EvictionCheckpointTarget float64 `yaml:"eviction_checkpoint_target"`

	EvictThreadsMin uint32 `yaml:"threads_min"`
	EvictThreadsMax uint32 `yaml:"threads_max"`

	// EvictSampleInMem is consumed by the walk only.
	EvictSampleInMem bool `yaml:"evict_sample_inmem"`

	// MaxWaitUs bounds how long an application thread waits for eviction relief; zero waits indefinitely.
	MaxWaitUs uint64 `yaml:"cache_max_wait_us"`

	// StuckTimeoutMs is how long eviction may make no progress before it is declared stuck; zero disables the check.
	StuckTimeoutMs uint64 `yaml:"cache_stuck_timeout_ms"`

	// SharedCacheName is empty unless the connection participates in a shared pool.
	SharedCacheName string `yaml:"shared_cache_name,omitempty"`

	// Debug enables auto-correction notices.
	Debug bool `yaml:"debug_configuration"`

	// StatisticsLogWait is the interval of the periodic statistics log; zero disables it.
	StatisticsLogWait time.Duration `yaml:"statistics_log_wait"`
}

// Shared reports whether the configuration enrolls the connection in a shared pool.
func (cfg *Cache) Shared() bool {
	return cfg != nil && cfg.SharedCacheName != ""
}

func (cfg *Cache) MaxWait() time.Duration {
	return time.Duration(cfg.MaxWaitUs) * time.Microsecond
}

func (cfg *Cache) StuckTimeout() time.Duration {
	return time.Duration(cfg.StuckTimeoutMs) * time.Millisecond
}

// Pool configures a named shared cache pool.
type Pool struct {
	Name string `yaml:"name"`
	// SizeBytes is the total budget divided between the members.
	SizeBytes uint64 `yaml:"size"`
	// ChunkBytes caps how much a member's share moves in one rebalance.
	ChunkBytes uint64 `yaml:"chunk"`
	// ReserveBytes is the minimum share every member keeps.
	ReserveBytes uint64 `yaml:"reserve"`
	// QuotaBytes is the maximum share of a single member.
	QuotaBytes uint64 `yaml:"quota"`
}
