package evictor

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/internal/shared/cachedtime"
	"github.com/Borislavv/go-ash-evict/model"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
)

const (
	tunePeriod          = 100 * time.Millisecond
	aggressiveThreshold = 50
	emptyScoreStep      = 10
	maxScore            = 100
	// evictBatch bounds the evictions of one pass so a worker re-checks the state regularly.
	evictBatch = 64
)

type WorkerState uint32

const (
	WorkerIdle WorkerState = iota
	WorkerWalking
	WorkerEvicting
	WorkerStuck
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerWalking:
		return "walking"
	case WorkerEvicting:
		return "evicting"
	case WorkerStuck:
		return "stuck"
	default:
		return "unknown"
	}
}

type worker struct {
	id      uint32
	session WalkSession
	state   atomic.Uint32
	cancel  func()
	done    chan struct{}
}

func (w *worker) State() WorkerState     { return WorkerState(w.state.Load()) }
func (w *worker) setState(s WorkerState) { w.state.Store(uint32(s)) }

// tuning is owned by whichever worker holds passMu.
type tuning struct {
	last           time.Time
	lastEvicted    int64
	bestThroughput int64
}

func (p *Pool) run(ctx context.Context, w *worker) {
	defer close(w.done)
	defer p.running.Add(^uint32(0))
	defer func() {
		if err := w.session.Close(); err != nil {
			p.logger.Warn("closing eviction walk session", "worker", w.id, "err", err)
		}
	}()

	progress := true
	for {
		if ctx.Err() != nil {
			return
		}
		if p.Err() != nil {
			w.setState(WorkerStuck)
			return
		}
		w.setState(WorkerIdle)
		p.cond.Wait(ctx, progress)
		if ctx.Err() != nil {
			return
		}
		progress = p.pass(ctx, w)
	}
}

// pass is a single worker iteration. It reports whether any bytes were freed.
func (p *Pool) pass(ctx context.Context, w *worker) (progress bool) {
	st := p.store.UpdateState()

	if p.passMu.TryLock() {
		p.tune(st)
		p.checkStuck(st)
		p.passMu.Unlock()
	}

	urgent := p.queues.Len(RoleUrgent) > 0
	if w.id >= p.active.Load() || (!st.NeedsEviction() && !urgent) {
		return false
	}

	if st.NeedsEviction() && p.queues.NeedsRefill() && p.walkMu.TryLock() {
		w.setState(WorkerWalking)
		p.walk(ctx, w)
		p.walkMu.Unlock()
	}

	w.setState(WorkerEvicting)
	for range evictBatch {
		c, ok := p.queues.DrainOne()
		if !ok {
			break
		}
		if freed, err := p.evictOne(ctx, c); err == nil && freed > 0 {
			progress = true
		}
		if !p.store.UpdateState().NeedsEviction() && p.queues.Len(RoleUrgent) == 0 {
			break
		}
	}
	return progress
}

func (p *Pool) walk(ctx context.Context, w *worker) {
	p.counters.walks.Add(1)
	cands, err := w.session.Walk(ctx, p.queues.Slots())
	p.activeWalks.Store(int32(w.session.ActiveWalks()))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.counters.walkErrors.Add(1)
		p.logger.Warn("eviction walk failed", "worker", w.id, "err", err)
		return
	}

	queued := p.queues.Refill(RoleOther, cands)
	score := p.store.EmptyScore()
	if queued == 0 {
		p.counters.walkEmpty.Add(1)
		score = min(score+emptyScoreStep, maxScore)
	} else if score >= emptyScoreStep {
		score -= emptyScoreStep
	} else {
		score = 0
	}
	p.store.SetEmptyScore(score)
}

// evictOne evicts a dequeued candidate and settles its accounting.
func (p *Pool) evictOne(ctx context.Context, c model.Candidate) (freed int64, err error) {
	start := crtime.NowMono()
	// a started eviction completes even when its worker is being stopped
	fp, err := p.tree.Evict(context.WithoutCancel(ctx), c)
	if err != nil {
		p.counters.evictFails.Add(1)
		if !errors.Is(err, ErrBusy) {
			p.logger.Warn("page eviction failed", "page", c.Key().String(), "err", err)
		}
		return 0, err
	}

	p.store.RemovePage(fp)
	p.store.ObserveEviction(fp.Size, start.Elapsed())
	p.counters.evictedPages.Add(1)
	p.counters.evictedBytes.Add(fp.Size)
	p.markProgress()
	p.relief.Notify()
	return fp.Size, nil
}

// tune sets the number of active workers from how far usage is above its targets.
func (p *Pool) tune(st cache.State) {
	now := cachedtime.Now()
	if now.Sub(p.tuning.last) < tunePeriod {
		return
	}
	elapsed := now.Sub(p.tuning.last)
	p.tuning.last = now

	cfg := p.store.Config()
	inuse, dirty, updates := p.store.Usage()
	score := max(
		over(inuse, cfg.EvictionTarget, cfg.EvictionTrigger),
		over(dirty, p.store.DirtyTarget(), cfg.EvictionDirtyTrigger),
		over(updates, cfg.EvictionUpdatesTarget, cfg.EvictionUpdatesTrigger),
	)
	if st.Hard() {
		score = maxScore
	}
	p.store.SetAggressiveScore(score)
	p.store.SetAggressive(score >= aggressiveThreshold)

	// resize stores the bounds one at a time, so hi may briefly read below lo
	lo, hi := p.min.Load(), p.max.Load()
	hi = max(hi, lo)
	want := lo + uint32(math.Ceil(float64(hi-lo)*float64(score)/maxScore))
	if prev := p.active.Swap(want); want > prev {
		p.cond.Signal()
	}

	evicted := p.counters.evictedPages.Load()
	if elapsed < time.Second*10 {
		if delta := evicted - p.tuning.lastEvicted; delta > p.tuning.bestThroughput {
			p.tuning.bestThroughput = delta
			p.store.SetWorkersBest(want)
		}
	}
	p.tuning.lastEvicted = evicted
}

// over maps v from [target, trigger] onto [0, maxScore].
func over(v, target, trigger float64) uint32 {
	if v <= target {
		return 0
	}
	if trigger <= target || v >= trigger {
		return maxScore
	}
	return uint32(math.Round((v - target) / (trigger - target) * maxScore))
}

func (p *Pool) markProgress() { p.lastProgress.Store(cachedtime.UnixNano()) }

// checkStuck declares eviction stuck when a hard limit has seen no progress within the stuck timeout.
func (p *Pool) checkStuck(st cache.State) {
	if !st.Hard() {
		p.markProgress()
		return
	}
	timeout := p.store.Config().StuckTimeout()
	if timeout <= 0 {
		return
	}
	idle := cachedtime.Since(p.lastProgress.Load())
	if idle < timeout {
		return
	}

	p.stuckOnce.Do(func() {
		err := stuckError(idle)
		p.stuck.Store(&err)
		p.logger.Error("cache eviction stuck",
			"idle", idle.String(),
			"state", st.String(),
			"bytes_inuse", p.store.BytesInuse(),
			"cache_size", p.store.Size(),
		)
		p.relief.Notify()
		p.cond.Signal()
		if p.opts.OnStuck != nil {
			p.opts.OnStuck(err)
		}
		if p.opts.PanicOnStuck {
			panic(err)
		}
	})
}
