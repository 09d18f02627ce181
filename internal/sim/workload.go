package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-ash-evict/internal/shared/random"
	"github.com/cockroachdb/errors"
)

// Workload describes a synthetic read/modify load.
type Workload struct {
	Readers     int
	Duration    time.Duration
	PageSize    int64
	InternalPct float64 // share of reads that load internal pages, 0..1
	ModifyPct   float64 // share of reads followed by a modification, 0..1
	UpdateBytes int64
}

// Result counts what a workload did.
type Result struct {
	Reads      int64
	Modifies   int64
	AdmitFails int64
	Elapsed    time.Duration
}

// Run drives w against the tree. Every read first passes admit, the cache admission gate.
// Admission failures are counted; any other error stops the run.
func (t *Tree) Run(ctx context.Context, admit func(context.Context) error, w Workload, retryable func(error) bool) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.Duration)
	defer cancel()

	var (
		reads, modifies, fails atomic.Int64
		wg                     sync.WaitGroup
		errOnce                sync.Once
		runErr                 error
	)
	start := time.Now()
	for range max(w.Readers, 1) {
		wg.Go(func() {
			for ctx.Err() == nil {
				if err := admit(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					if retryable != nil && retryable(err) {
						fails.Add(1)
						continue
					}
					errOnce.Do(func() { runErr = err; cancel() })
					return
				}

				p, err := t.Read(w.PageSize, random.Chance(w.InternalPct))
				if err != nil {
					errOnce.Do(func() { runErr = errors.Wrap(err, "reading page"); cancel() })
					return
				}
				reads.Add(1)
				if w.UpdateBytes > 0 && random.Chance(w.ModifyPct) && t.Modify(p, w.UpdateBytes) {
					modifies.Add(1)
				}
			}
		})
	}
	wg.Wait()

	return Result{
		Reads:      reads.Load(),
		Modifies:   modifies.Load(),
		AdmitFails: fails.Load(),
		Elapsed:    time.Since(start),
	}, runErr
}
