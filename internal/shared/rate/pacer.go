// Package rate paces background loops with go.uber.org/ratelimit.
package rate

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
)

// Pacer hands out permits at a fixed rate to a periodic loop. A producer goroutine
// takes from the limiter and parks up to a small burst of permits in a buffer, so a
// slow round does not push every later round back.
type Pacer struct {
	permits chan struct{}
	limiter ratelimit.Limiter
	perSec  int
	issued  atomic.Int64
}

// NewPacer issues perSec permits per second, or per ratelimit.Per when given,
// until ctx is done. perSec is clamped to at least one.
func NewPacer(ctx context.Context, perSec int, opts ...ratelimit.Option) *Pacer {
	perSec = max(perSec, 1)
	p := &Pacer{
		permits: make(chan struct{}, max(perSec/10, 1)),
		limiter: ratelimit.New(perSec, opts...),
		perSec:  perSec,
	}
	go p.produce(ctx)
	return p
}

func (p *Pacer) produce(ctx context.Context) {
	defer close(p.permits)
	for {
		p.limiter.Take()
		select {
		case <-ctx.Done():
			return
		case p.permits <- struct{}{}:
			p.issued.Add(1)
		}
	}
}

// Wait blocks for the next permit. It returns false once ctx is done or the pacer is drained.
func (p *Pacer) Wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-p.permits:
		return ok
	}
}

// Rate is the clamped permits-per-period rate.
func (p *Pacer) Rate() int { return p.perSec }

// Issued counts the permits handed to the buffer so far.
func (p *Pacer) Issued() int64 { return p.issued.Load() }
