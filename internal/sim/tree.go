// Package sim is a simulated page set standing in for a B-tree. It implements the walk
// and evict side of eviction so the cache core can be exercised without a storage engine.
package sim

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/Borislavv/go-ash-evict/internal/evictor"
	"github.com/Borislavv/go-ash-evict/model"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Options configure a simulated tree.
type Options struct {
	// MaxPageSize sends larger pages straight to Urgent; zero disables.
	MaxPageSize int64
	// WriteDelay is the time it takes to write a dirty page before it is evicted.
	WriteDelay time.Duration
	// Urgent queues a page for forced eviction.
	Urgent func(model.Candidate) bool
}

// Tree holds pages by the xxh3 hash of their key, with recency kept in an LRU list.
type Tree struct {
	name  string
	store *cache.Store
	opts  Options

	mu       sync.Mutex
	pages    map[uint64]*Page
	recency  *simplelru.LRU[uint64, *Page]
	nextAddr uint64
	closed   bool

	written atomic.Int64
	evicted atomic.Int64
}

func New(name string, store *cache.Store, opts Options) (*Tree, error) {
	recency, err := simplelru.NewLRU[uint64, *Page](math.MaxInt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating recency index")
	}
	return &Tree{
		name:    name,
		store:   store,
		opts:    opts,
		pages:   make(map[uint64]*Page),
		recency: recency,
	}, nil
}

func (t *Tree) Name() string { return t.name }

func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pages)
}

// Written is the number of dirty pages written by eviction.
func (t *Tree) Written() int64 { return t.written.Load() }

// Evicted is the number of pages that left the tree through eviction.
func (t *Tree) Evicted() int64 { return t.evicted.Load() }

// Read brings a new page of the given size into memory.
func (t *Tree) Read(size int64, internal bool) (*Page, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.Newf("tree %s is closed", t.name)
	}
	t.nextAddr++
	p := &Page{
		key:     model.NewPageKey(t.name, t.nextAddr),
		fp:      model.Footprint{Size: size, Image: size, Internal: internal},
		readGen: t.store.NextReadGen(),
	}
	h := p.key.Hash()
	t.pages[h] = p
	t.recency.Add(h, p)
	t.mu.Unlock()

	t.store.AddPage(p.fp)
	if t.opts.MaxPageSize > 0 && size > t.opts.MaxPageSize && t.opts.Urgent != nil {
		t.opts.Urgent(p)
	}
	return p, nil
}

// Touch records an access to the page.
func (t *Tree) Touch(p *Page) bool {
	t.mu.Lock()
	_, ok := t.recency.Get(p.key.Hash())
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.mu.Lock()
	p.readGen = t.store.NextReadGen()
	p.mu.Unlock()
	return true
}

// Modify attaches n bytes of updates to the page, dirtying it. It returns false
// if the page has already been evicted.
func (t *Tree) Modify(p *Page, n int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pages[p.key.Hash()]; !ok {
		return false
	}
	t.recency.Get(p.key.Hash())

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fp.Dirty {
		t.store.MarkDirty(p.fp)
		p.fp.Dirty = true
	}
	t.store.AddUpdates(p.fp, n)
	p.fp.Size += n
	p.fp.Updates += n
	return true
}

// NewWalkSession implements evictor.Tree.
func (t *Tree) NewWalkSession() (evictor.WalkSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.Newf("tree %s is closed", t.name)
	}
	return &walker{tree: t}, nil
}

// Evict implements evictor.Tree: pinned pages are busy, dirty pages are written first.
func (t *Tree) Evict(ctx context.Context, c model.Candidate) (model.Footprint, error) {
	h := c.Key().Hash()
	t.mu.Lock()
	p, ok := t.pages[h]
	if !ok || p.pins.Load() > 0 {
		t.mu.Unlock()
		return model.Footprint{}, evictor.ErrBusy
	}
	delete(t.pages, h)
	t.recency.Remove(h)
	t.mu.Unlock()

	fp := p.Footprint()
	if fp.Dirty {
		start := crtime.NowMono()
		if t.opts.WriteDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(t.opts.WriteDelay):
			}
		}
		t.written.Add(1)
		t.store.ObserveReconcile(start.Elapsed(), 0, 0)
	}
	t.evicted.Add(1)
	return fp, nil
}

// Close discards every page still in memory.
func (t *Tree) Close() {
	t.mu.Lock()
	pages := make([]*Page, 0, len(t.pages))
	for _, p := range t.pages {
		pages = append(pages, p)
	}
	clear(t.pages)
	t.recency.Purge()
	t.closed = true
	t.mu.Unlock()

	for _, p := range pages {
		t.store.RemovePage(p.Footprint())
	}
}

// walker nominates the least recently used unqueued pages.
type walker struct {
	tree   *Tree
	active atomic.Int32
	closed atomic.Bool
}

func (w *walker) Walk(ctx context.Context, limit int) ([]model.Candidate, error) {
	if w.closed.Load() {
		return nil, errors.AssertionFailedf("walk on a closed session")
	}
	t := w.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		out    []model.Candidate
		oldest uint64
	)
	for _, h := range t.recency.Keys() {
		if len(out) >= limit || ctx.Err() != nil {
			break
		}
		p, ok := t.recency.Peek(h)
		if !ok || p.queued.Load() || p.pins.Load() > 0 {
			continue
		}
		if gen := p.ReadGen(); oldest == 0 || gen < oldest {
			oldest = gen
		}
		out = append(out, p)
	}
	if oldest != 0 {
		t.store.SetReadGenOldest(oldest)
	}
	if t.recency.Len() > 0 {
		w.active.Store(1)
	} else {
		w.active.Store(0)
	}
	return out, ctx.Err()
}

func (w *walker) ActiveWalks() int { return int(w.active.Load()) }

func (w *walker) Close() error {
	w.closed.Store(true)
	return nil
}
