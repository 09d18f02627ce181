package evictor

import (
	"context"
	"time"

	"github.com/Borislavv/go-ash-evict/internal/shared/random"
	"github.com/cockroachdb/crlib/crtime"
)

// Application thread backoff while waiting for relief, jittered by up to the same amount again.
const (
	appBackoff    = 2 * time.Millisecond
	appBackoffMax = 50 * time.Millisecond
)

// Admit is called by an application thread before it adds to the cache. While any usage
// is above its trigger the thread helps by evicting queued candidates, or waits for the
// workers to make room. It returns an ErrCacheFull error once cache_max_wait_ms has
// elapsed, an ErrStuck error once eviction is stuck, ErrClosed once the pool is closed,
// or ctx.Err().
func (p *Pool) Admit(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	if err := p.Err(); err != nil {
		return err
	}
	if !p.store.UpdateState().Hard() {
		return nil
	}

	p.counters.appWaits.Add(1)
	p.cond.Signal()

	start := crtime.NowMono()
	defer func() { p.counters.appWaitUs.Add(start.Elapsed().Microseconds()) }()

	var deadline <-chan time.Time
	if wait := p.store.Config().MaxWait(); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	backoff := appBackoff
	for {
		relief := p.relief.C()
		if err := p.Err(); err != nil {
			return err
		}
		if p.ctx.Err() != nil {
			return ErrClosed
		}
		if !p.store.UpdateState().Hard() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if c, ok := p.queues.DrainOne(); ok {
			if _, err := p.evictOne(ctx, c); err == nil {
				p.counters.appEvicted.Add(1)
				backoff = appBackoff
			}
			continue
		}

		sleep := time.NewTimer(random.Jitter(backoff, 1))
		select {
		case <-ctx.Done():
			sleep.Stop()
			return ctx.Err()
		case <-p.ctx.Done():
			sleep.Stop()
			return ErrClosed
		case <-deadline:
			sleep.Stop()
			p.counters.appTimeouts.Add(1)
			return cacheFullError(start.Elapsed())
		case <-relief:
			sleep.Stop()
		case <-sleep.C:
			backoff = min(backoff*2, appBackoffMax)
			p.cond.Signal()
		}
	}
}
