package evictor

import (
	"context"

	"github.com/Borislavv/go-ash-evict/model"
	"github.com/cockroachdb/errors"
)

// ErrBusy is returned by Tree.Evict for a page that cannot be evicted right now
// (pinned by a reader, split in progress...). The candidate is dropped and the walk finds it again later.
var ErrBusy = errors.New("page is busy")

// Tree is the B-tree side of eviction: it nominates candidates and performs the actual eviction.
type Tree interface {
	// NewWalkSession opens the private walk cursor of one eviction worker.
	NewWalkSession() (WalkSession, error)
	// Evict removes the page from memory, writing it first when dirty, and returns the
	// footprint the page had when it left. Accounting is done by the caller.
	Evict(ctx context.Context, c model.Candidate) (model.Footprint, error)
}

// WalkSession is a worker's walk cursor.
type WalkSession interface {
	// Walk nominates at most limit candidates.
	Walk(ctx context.Context, limit int) ([]model.Candidate, error)
	// ActiveWalks is the number of trees this session currently holds a walk position in.
	ActiveWalks() int
	Close() error
}
