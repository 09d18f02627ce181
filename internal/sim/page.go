package sim

import (
	"sync"
	"sync/atomic"

	"github.com/Borislavv/go-ash-evict/model"
)

// Page is an in-memory page of the simulated tree.
type Page struct {
	key    model.PageKey
	queued atomic.Bool
	pins   atomic.Int32

	mu      sync.Mutex
	fp      model.Footprint
	readGen uint64
}

func (p *Page) Key() model.PageKey { return p.key }

func (p *Page) Footprint() model.Footprint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fp
}

func (p *Page) ReadGen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readGen
}

func (p *Page) MarkQueued() bool { return p.queued.CompareAndSwap(false, true) }
func (p *Page) ClearQueued()     { p.queued.Store(false) }

// Pin keeps the page from being evicted until Unpin.
func (p *Page) Pin()   { p.pins.Add(1) }
func (p *Page) Unpin() { p.pins.Add(-1) }
