package model

// Footprint describes how a single page is accounted in the cache.
// Size is the total memory footprint; Image is the part backed by the on-disk image;
// Updates is the in-memory update chain attached to the page.
type Footprint struct {
	Size     int64
	Image    int64
	Updates  int64
	Internal bool
	Dirty    bool
	History  bool // page belongs to the history store
}

// Candidate is a page nominated for eviction by a walk.
// The queued flag guarantees a page sits in at most one eviction queue at a time.
type Candidate interface {
	Key() PageKey
	Footprint() Footprint
	// MarkQueued returns false if the page is already queued.
	MarkQueued() bool
	ClearQueued()
}
