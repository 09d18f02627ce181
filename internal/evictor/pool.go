package evictor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/internal/shared/cond"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Worker wake-up bounds: a busy pool polls every 10ms, an idle one backs off to 1s.
const (
	condMin = 10 * time.Millisecond
	condMax = time.Second
)

// ResizeFlags control how Resize treats thread creation and teardown.
type ResizeFlags uint8

const (
	// CanWait makes Resize block until new workers are started and removed workers have exited.
	CanWait ResizeFlags = 1 << iota
	// PanicFail escalates a worker start failure to a panic.
	PanicFail
)

// Options tune failure handling of the pool.
type Options struct {
	// OnStuck is called once, from a worker, when eviction is declared stuck.
	OnStuck func(error)
	// PanicOnStuck escalates a stuck declaration to a panic.
	PanicOnStuck bool
}

// Pool is the eviction worker pool of one connection.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	opts   Options

	store    *cache.Store
	tree     Tree
	queues   *QueueSet
	cond     *cond.Auto
	relief   *cond.Notifier
	counters *evictorCounters

	mu      sync.Mutex // workers, resizes
	workers []*worker
	wg      sync.WaitGroup

	min, max    atomic.Uint32
	active      atomic.Uint32
	running     atomic.Uint32
	activeWalks atomic.Int32

	passMu sync.Mutex // tuning pass, one worker at a time
	walkMu sync.Mutex // walk capability
	tuning tuning

	lastProgress atomic.Int64
	stuck        atomic.Pointer[error]
	stuckOnce    sync.Once
}

// New creates the pool and starts the configured number of workers.
func New(ctx context.Context, logger *slog.Logger, store *cache.Store, tree Tree, opts Options) (*Pool, error) {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		opts:     opts,
		store:    store,
		tree:     tree,
		cond:     cond.NewAuto(condMin, condMax),
		relief:   cond.NewNotifier(),
		counters: newEvictorCounters(),
	}
	p.queues = NewQueueSet(p.cond.Signal)
	p.markProgress()

	cfg := store.Config()
	if err := p.Resize(cfg.EvictThreadsMin, cfg.EvictThreadsMax, CanWait); err != nil {
		cancel()
		return nil, err
	}
	logger.Info("evictor is running", "threads_min", cfg.EvictThreadsMin, "threads_max", cfg.EvictThreadsMax)
	return p, nil
}

// Resize changes the worker bounds: max goroutines exist and the first min are always active.
func (p *Pool) Resize(minThreads, maxThreads uint32, flags ResizeFlags) error {
	if minThreads == 0 || minThreads > maxThreads {
		return invalidf("eviction threads: min %d must be positive and not above max %d", minThreads, maxThreads)
	}
	if err := p.Err(); err != nil {
		return err
	}
	if flags&CanWait == 0 {
		go func() {
			if err := p.resize(minThreads, maxThreads, flags); err != nil {
				p.logger.Error("eviction pool resize failed", "err", err)
			}
		}()
		return nil
	}
	return p.resize(minThreads, maxThreads, flags)
}

func (p *Pool) resize(minThreads, maxThreads uint32, flags ResizeFlags) error {
	p.mu.Lock()
	var stopping []*worker
	for uint32(len(p.workers)) > maxThreads {
		last := len(p.workers) - 1
		w := p.workers[last]
		w.cancel()
		stopping = append(stopping, w)
		p.workers = p.workers[:last]
	}
	p.min.Store(minThreads)
	p.max.Store(maxThreads)
	p.active.Store(min(max(p.active.Load(), minThreads), maxThreads))

	err := p.spawnLocked(int(maxThreads) - len(p.workers))
	if err != nil {
		// keep the bounds consistent with the workers that do exist
		n := uint32(len(p.workers))
		p.max.Store(n)
		p.min.Store(min(minThreads, n))
		p.active.Store(min(p.active.Load(), n))
	}
	p.mu.Unlock()

	if flags&CanWait != 0 {
		for _, w := range stopping {
			<-w.done
		}
	}
	if err != nil {
		if flags&PanicFail != 0 {
			panic(err)
		}
		return err
	}
	p.cond.Signal()
	return nil
}

// spawnLocked opens the walk sessions of n new workers in parallel and starts them
// only if all of them opened.
func (p *Pool) spawnLocked(n int) error {
	if n <= 0 {
		return nil
	}
	sessions := make([]WalkSession, n)
	var g errgroup.Group
	for i := range sessions {
		g.Go(func() (err error) {
			sessions[i], err = p.tree.NewWalkSession()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range sessions {
			if s != nil {
				_ = s.Close()
			}
		}
		return errors.Wrapf(err, "starting %d eviction workers", n)
	}

	for _, s := range sessions {
		ctx, cancel := context.WithCancel(p.ctx)
		w := &worker{id: uint32(len(p.workers)), session: s, cancel: cancel, done: make(chan struct{})}
		p.workers = append(p.workers, w)
		p.running.Add(1)
		p.wg.Go(func() { p.run(ctx, w) })
	}
	return nil
}

// WorkerStates returns the state of every worker, by id.
func (p *Pool) WorkerStates() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		states[i] = w.State()
	}
	return states
}

// Bounds returns the configured min and max workers.
func (p *Pool) Bounds() (minThreads, maxThreads uint32) { return p.min.Load(), p.max.Load() }

// ActiveWorkers is the number of workers currently allowed to evict.
func (p *Pool) ActiveWorkers() uint32 { return p.active.Load() }

// RunningWorkers is the number of live worker goroutines.
func (p *Pool) RunningWorkers() uint32 { return p.running.Load() }

// ActiveWalks is the number of trees with a walk position held by the last walk.
func (p *Pool) ActiveWalks() int { return int(p.activeWalks.Load()) }

func (p *Pool) Queues() *QueueSet { return p.queues }

// Wake asks the workers to run a pass now.
func (p *Pool) Wake() { p.cond.Signal() }

func (p *Pool) Metrics() Metrics {
	m := p.counters.snapshot(&p.queues.counters)
	m.Wakeups = int64(p.cond.Signals())
	m.WaitIntervalUs = p.cond.Interval().Microseconds()
	return m
}

// Err returns the stuck error once eviction has been declared stuck.
func (p *Pool) Err() error {
	if err := p.stuck.Load(); err != nil {
		return *err
	}
	return nil
}

// Close stops every worker and drops every queued candidate.
func (p *Pool) Close() error {
	p.cancel()
	p.wg.Wait()
	p.relief.Notify()

	p.mu.Lock()
	p.workers = nil
	p.mu.Unlock()

	if n := p.queues.Clear(); n > 0 {
		p.logger.Debug("dropped queued eviction candidates", "count", n)
	}
	p.logger.Info("evictor is stopped")
	return nil
}
