package evictor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/model"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const kb = 1 << 10

type fakePage struct {
	key    model.PageKey
	fp     model.Footprint
	queued atomic.Bool
}

func newFakePage(addr uint64, size int64) *fakePage {
	return &fakePage{key: model.NewPageKey("t", addr), fp: model.Footprint{Size: size}}
}

func (p *fakePage) Key() model.PageKey         { return p.key }
func (p *fakePage) Footprint() model.Footprint { return p.fp }
func (p *fakePage) MarkQueued() bool           { return p.queued.CompareAndSwap(false, true) }
func (p *fakePage) ClearQueued()               { p.queued.Store(false) }

func fakePages(n int, size int64) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range out {
		out[i] = newFakePage(uint64(i+1), size)
	}
	return out
}

// fakeTree keeps pages in insertion order and evicts whatever it is handed.
type fakeTree struct {
	mu         sync.Mutex
	pages      []*fakePage
	index      map[model.PageKey]*fakePage
	sessionErr error
	busy       atomic.Bool
	sessions   atomic.Int32
	evictions  atomic.Int64

	// evictCanceled records an Evict called with a done context.
	evictCanceled atomic.Bool
}

func newFakeTree() *fakeTree {
	return &fakeTree{index: make(map[model.PageKey]*fakePage)}
}

func (t *fakeTree) add(store *cache.Store, n int, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	base := uint64(len(t.index))
	for i := range n {
		p := newFakePage(base+uint64(i)+1, size)
		t.pages = append(t.pages, p)
		t.index[p.key] = p
		store.AddPage(p.fp)
	}
}

func (t *fakeTree) NewWalkSession() (WalkSession, error) {
	if t.sessionErr != nil {
		return nil, t.sessionErr
	}
	t.sessions.Add(1)
	return &fakeSession{tree: t}, nil
}

func (t *fakeTree) Evict(ctx context.Context, c model.Candidate) (model.Footprint, error) {
	if ctx.Err() != nil {
		t.evictCanceled.Store(true)
	}
	if t.busy.Load() {
		return model.Footprint{}, ErrBusy
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.index[c.Key()]
	if !ok {
		return model.Footprint{}, ErrBusy
	}
	delete(t.index, c.Key())
	t.evictions.Add(1)
	return p.fp, nil
}

type fakeSession struct {
	tree   *fakeTree
	closed atomic.Bool
}

func (s *fakeSession) Walk(_ context.Context, limit int) ([]model.Candidate, error) {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	var out []model.Candidate
	for _, p := range s.tree.pages {
		if len(out) == limit {
			break
		}
		if _, live := s.tree.index[p.key]; live && !p.queued.Load() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeSession) ActiveWalks() int { return 1 }

func (s *fakeSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return errors.New("session closed twice")
	}
	s.tree.sessions.Add(-1)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts map[string]any) *cache.Store {
	t.Helper()
	base := map[string]any{
		config.KeyCacheSize:     int64(1 << 20),
		config.KeyCacheOverhead: int64(0),
		config.KeyThreadsMin:    int64(1),
		config.KeyThreadsMax:    int64(4),
	}
	for k, v := range opts {
		base[k] = v
	}
	var cfg config.Cache
	require.NoError(t, config.Configure(nil, config.NewSource(base), &cfg, false))
	return cache.New(discardLogger(), &cfg)
}
