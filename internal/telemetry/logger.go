package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/internal/shared/bytes"
)

// Logs writes the cache statistics to the log every interval, eviction activity as
// per-interval deltas.
type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	store    *cache.Store
	ev       Evictor
	interval time.Duration
	done     chan struct{}
}

// NewLogs starts the statistics log; a non-positive interval disables it.
func NewLogs(ctx context.Context, logger *slog.Logger, store *cache.Store, ev Evictor, interval time.Duration) *Logs {
	ctx, cancel := context.WithCancel(ctx)
	return (&Logs{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		store:    store,
		ev:       ev,
		interval: interval,
		done:     make(chan struct{}),
	}).run()
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

func (l *Logs) Close() error {
	l.cancel()
	<-l.done
	return nil
}

func (l *Logs) run() *Logs {
	if l.interval <= 0 {
		close(l.done)
		return l
	}
	go l.loop()
	return l
}

func (l *Logs) loop() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	prevStats := Collect(l.store, l.ev)
	prev := sample(prevStats)

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			s := Collect(l.store, l.ev)
			cur := sample(s)
			d := deltaSnapshot(prev, cur)
			prev = cur

			common := []any{"interval", l.interval.String()}

			l.logger.Info("cache",
				append(common,
					"size", bytes.FmtMem(s.BytesMax),
					"inuse", bytes.FmtMem(s.BytesInuse),
					"inuse_pct", bytes.FmtPct(s.BytesInuse, s.BytesMax),
					"inuse_change", bytes.FmtDelta(int64(s.BytesInuse)-int64(prevStats.BytesInuse)),
					"dirty", bytes.FmtMem(s.BytesDirty),
					"updates", bytes.FmtMem(s.BytesUpdates),
					"pages", s.PagesInuse,
					"read", bytes.FmtMem(d.bytesRead),
					"state", s.State.String(),
				)...,
			)

			if d.walks > 0 || d.evictedPages > 0 || d.appWaits > 0 {
				l.logger.Info("eviction",
					append(common,
						"walks", d.walks,
						"empty_walks", d.walkEmpty,
						"freed_pages", d.evictedPages,
						"freed_bytes", bytes.FmtMem(d.evictedBytes),
						"failed", d.evictFails,
						"app_evicted", d.appEvicted,
						"app_waits", d.appWaits,
						"app_timeouts", d.appTimeouts,
						"queue_empty", d.getRefEmpty,
						"workers", s.ActiveWorkers,
						"aggressive", s.AggressiveScore,
					)...,
				)
			}
			prevStats = s
		}
	}
}
