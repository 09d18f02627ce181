// Package ashevict is the cache admission and eviction core of a B-tree storage engine.
//
// A Cache accounts the pages an engine connection holds in memory, keeps eviction
// worker goroutines draining candidate queues while usage is above its targets, and
// makes application goroutines help or wait once usage crosses its triggers. Several
// connections can divide one memory budget through a shared pool Registry.
package ashevict

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/internal/evictor"
	"github.com/Borislavv/go-ash-evict/internal/pool"
	"github.com/Borislavv/go-ash-evict/internal/telemetry"
	"github.com/Borislavv/go-ash-evict/model"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Store is the cache accounting of one connection.
	Store = cache.Store
	// Tree is the walk/evict side supplied by the storage engine.
	Tree = evictor.Tree
	// WalkSession is the walk cursor of a single eviction worker.
	WalkSession = evictor.WalkSession
	// Stats is a snapshot of every cache statistic.
	Stats = telemetry.Stats
	// Registry holds the shared cache pools of a process.
	Registry = pool.Registry
	// Metrics are the cumulative eviction counters.
	Metrics = evictor.Metrics
)

var (
	ErrInvalidArgument = config.ErrInvalidArgument
	ErrCacheFull       = evictor.ErrCacheFull
	ErrStuck           = evictor.ErrStuck
	ErrBusy            = evictor.ErrBusy
	ErrClosed          = evictor.ErrClosed
)

// NewRegistry returns an empty shared pool registry.
func NewRegistry(logger *slog.Logger) *Registry { return pool.NewRegistry(logger) }

// TreeFactory builds the engine side once the store exists.
type TreeFactory func(*Store) (Tree, error)

// Options of Open. Everything is optional except where noted.
type Options struct {
	// Name labels statistics and logs; defaults to "default".
	Name   string
	Logger *slog.Logger
	// Registry is required when shared_cache.name is set.
	Registry *Registry
	// Registerer receives the Prometheus gauges when set.
	Registerer prometheus.Registerer
	// PanicOnStuck escalates stuck eviction to a panic.
	PanicOnStuck bool
	// OnStuck is called once when eviction is declared stuck.
	OnStuck func(error)
}

// Cache is the cache subsystem of one connection.
type Cache struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu        sync.Mutex // reconfiguration, close
	store     *cache.Store
	workers   *evictor.Pool
	registry  *pool.Registry
	shared    string
	publisher *telemetry.Publisher
	logs      *telemetry.Logs
	closed    atomic.Bool
}

// Open validates the configuration of src, sizes the cache, joins the shared pool if one
// is named and starts the eviction workers.
func Open(ctx context.Context, src config.Source, newTree TreeFactory, opts Options) (*Cache, error) {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("cache", opts.Name)

	cfg, poolCfg, err := Resolve(logger, src)
	if err != nil {
		return nil, err
	}
	if poolCfg != nil && opts.Registry == nil {
		return nil, errors.Mark(errors.Newf("shared cache %q requires a pool registry", poolCfg.Name), ErrInvalidArgument)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Cache{
		name:     opts.Name,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		store:    cache.New(logger, cfg),
		registry: opts.Registry,
	}
	if err := c.start(poolCfg, newTree, opts); err != nil {
		_ = c.teardown()
		return nil, err
	}
	return c, nil
}

// start brings up the subsystems in dependency order; teardown undoes whatever part succeeded.
func (c *Cache) start(poolCfg *config.Pool, newTree TreeFactory, opts Options) error {
	if poolCfg != nil {
		if _, err := c.registry.Join(poolCfg, c.store); err != nil {
			return err
		}
		c.shared = poolCfg.Name
	}

	tree, err := newTree(c.store)
	if err != nil {
		return errors.Wrap(err, "creating eviction tree")
	}
	if c.workers, err = evictor.New(c.ctx, c.logger, c.store, tree, evictor.Options{
		OnStuck:      opts.OnStuck,
		PanicOnStuck: opts.PanicOnStuck,
	}); err != nil {
		return err
	}

	if opts.Registerer != nil {
		if c.publisher, err = telemetry.NewPublisher(opts.Registerer, opts.Name, c.store, c.workers); err != nil {
			return err
		}
	}
	c.logs = telemetry.NewLogs(c.ctx, c.logger, c.store, c.workers, c.store.Config().StatisticsLogWait)
	return nil
}

// Resolve validates src without applying it. poolCfg is nil unless src names a shared cache.
func Resolve(logger *slog.Logger, src config.Source) (cfg *config.Cache, poolCfg *config.Pool, err error) {
	_, shared, err := src.String(config.KeySharedCacheName)
	if err != nil {
		return nil, nil, err
	}
	if shared {
		if poolCfg, err = config.ConfigurePool(src); err != nil {
			return nil, nil, err
		}
	}

	cfg = &config.Cache{}
	if err = config.Configure(logger, src, cfg, shared); err != nil {
		return nil, nil, err
	}
	if shared {
		cfg.SharedCacheName = poolCfg.Name
	}
	return cfg, poolCfg, nil
}

// Reconfigure validates src and applies it. A connection moving out of a shared pool
// leaves it before taking its local size; one moving in drops its local size before
// joining. The worker pool is resized to the new bounds and must succeed.
func (c *Cache) Reconfigure(src config.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}

	cfg, poolCfg, err := Resolve(c.logger, src)
	if err != nil {
		return err
	}
	if poolCfg != nil && c.registry == nil {
		return errors.Mark(errors.Newf("shared cache %q requires a pool registry", poolCfg.Name), ErrInvalidArgument)
	}

	switch {
	case c.shared != "" && (poolCfg == nil || poolCfg.Name != c.shared):
		if err := c.registry.Leave(c.shared, c.store); err != nil {
			return err
		}
		c.logger.Info("left shared cache", "pool", c.shared)
		c.shared = ""
	case c.shared != "" && poolCfg != nil:
		if err := c.registry.Configure(poolCfg); err != nil {
			return err
		}
	}

	if poolCfg != nil && c.shared == "" {
		c.store.SetSize(0)
		c.store.SetConfig(cfg)
		if _, err := c.registry.Join(poolCfg, c.store); err != nil {
			return err
		}
		c.shared = poolCfg.Name
	} else {
		c.store.SetConfig(cfg)
	}

	if err := c.workers.Resize(cfg.EvictThreadsMin, cfg.EvictThreadsMax, evictor.CanWait|evictor.PanicFail); err != nil {
		return err
	}

	if c.logs.Interval() != cfg.StatisticsLogWait {
		_ = c.logs.Close()
		c.logs = telemetry.NewLogs(c.ctx, c.logger, c.store, c.workers, cfg.StatisticsLogWait)
	}
	c.workers.Wake()
	return nil
}

// Admit must be called before the connection brings a page into memory. It returns
// immediately while usage is under every trigger; otherwise the caller helps evict or
// waits. The error is marked ErrCacheFull (retryable), ErrStuck (fatal), is ErrClosed
// once the cache is closed, or is ctx.Err().
func (c *Cache) Admit(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.workers.Admit(ctx)
}

// QueueUrgent queues a candidate for forced eviction ahead of every other candidate.
func (c *Cache) QueueUrgent(cand model.Candidate) bool {
	if c.closed.Load() {
		return false
	}
	ok := c.workers.Queues().PushUrgent(cand)
	if ok {
		c.workers.Wake()
	}
	return ok
}

// PurgeTree drops every queued candidate of the named tree, before the tree is closed.
func (c *Cache) PurgeTree(tree string) int {
	return c.workers.Queues().Purge(func(cand model.Candidate) bool { return cand.Key().Tree == tree })
}

// SetCheckpointRunning relaxes the dirty target to eviction_checkpoint_target while a checkpoint runs.
func (c *Cache) SetCheckpointRunning(running bool) {
	c.store.SetCheckpointRunning(running)
	c.workers.Wake()
}

func (c *Cache) Store() *Store { return c.store }

func (c *Cache) Name() string { return c.name }

// Shared returns the name of the pool the cache belongs to, if any.
func (c *Cache) Shared() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shared, c.shared != ""
}

// Err reports a stuck eviction.
func (c *Cache) Err() error { return c.workers.Err() }

// Stats collects the current statistics, refreshing the Prometheus gauges when registered.
func (c *Cache) Stats() Stats {
	if c.publisher != nil {
		return c.publisher.Refresh()
	}
	return telemetry.Collect(c.store, c.workers)
}

// Metrics returns the eviction counters.
func (c *Cache) Metrics() Metrics { return c.workers.Metrics() }

// Close stops the workers, leaves the shared pool and reports accounting leaks.
// The caller discards its pages (releasing them from the store) before calling Close.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.teardown()
}

func (c *Cache) teardown() error {
	var err error
	if c.logs != nil {
		_ = c.logs.Close()
	}
	if c.publisher != nil {
		c.publisher.Close()
	}
	if c.workers != nil {
		err = errors.CombineErrors(err, c.workers.Close())
	}
	if c.shared != "" {
		err = errors.CombineErrors(err, c.registry.Leave(c.shared, c.store))
		c.shared = ""
	}
	c.cancel()
	c.store.Destroy()
	return err
}
