package pool

import (
	"log/slog"
	"sync"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/internal/shared/bytes"
	"github.com/cockroachdb/errors"
)

// Member is a connection whose cache budget is governed by a pool.
type Member interface {
	Size() uint64
	SetSize(n uint64)
	// BytesRead is a monotonic count of bytes read into the cache, used as the activity signal.
	BytesRead() uint64
	BytesInuse() uint64
}

type share struct {
	member   Member
	lastRead uint64
	activity uint64
}

// Pool divides one memory budget between its members.
type Pool struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	cfg       config.Pool
	shares    []*share
	allocated uint64
}

func newPool(logger *slog.Logger, cfg *config.Pool) *Pool {
	return &Pool{name: cfg.Name, logger: logger.With("pool", cfg.Name), cfg: *cfg}
}

func (p *Pool) Name() string { return p.name }

// Config returns the pool settings in effect.
func (p *Pool) Config() config.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Allocated is the sum of the members' shares.
func (p *Pool) Allocated() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

func (p *Pool) Members() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shares)
}

// reconfigure applies settings declared by a joining connection; the last writer wins.
func (p *Pool) reconfigure(cfg *config.Pool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg != *cfg {
		p.logger.Info("shared cache pool reconfigured",
			"size", bytes.FmtMem(cfg.SizeBytes),
			"chunk", bytes.FmtMem(cfg.ChunkBytes),
			"reserve", bytes.FmtMem(cfg.ReserveBytes),
			"quota", bytes.FmtMem(cfg.QuotaBytes),
		)
	}
	p.cfg = *cfg
}

func (p *Pool) indexLocked(m Member) int {
	for i, s := range p.shares {
		if s.member == m {
			return i
		}
	}
	return -1
}

// join zeroes the member's local size and hands it the reserve if the pool can afford it.
func (p *Pool) join(m Member) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(m) >= 0 {
		return errors.Mark(errors.Newf("connection already joined shared cache %q", p.name), config.ErrInvalidArgument)
	}

	m.SetSize(0)
	p.shares = append(p.shares, &share{member: m, lastRead: m.BytesRead()})
	if reserve := p.cfg.ReserveBytes; reserve > 0 && p.allocated+reserve <= p.cfg.SizeBytes {
		m.SetSize(reserve)
		p.allocated += reserve
	}
	p.logger.Info("connection joined shared cache", "members", len(p.shares), "share", bytes.FmtMem(m.Size()))
	return nil
}

// leave returns the member's share to the pool and reports how many members remain.
func (p *Pool) leave(m Member) (remaining int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(m)
	if i < 0 {
		return len(p.shares), errors.Newf("connection is not a member of shared cache %q", p.name)
	}

	p.allocated -= min(m.Size(), p.allocated)
	p.shares = append(p.shares[:i], p.shares[i+1:]...)
	p.logger.Info("connection left shared cache", "members", len(p.shares), "released", bytes.FmtMem(m.Size()))
	return len(p.shares), nil
}

// Rebalance reapportions the budget by activity since the previous rebalance.
// Every member keeps at least min(reserve, size/members), never exceeds the quota
// and moves by at most one chunk per call. Returns the number of members resized.
func (p *Pool) Rebalance() (adjusted int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := uint64(len(p.shares))
	if n == 0 {
		return 0
	}

	var totalActivity uint64
	for _, s := range p.shares {
		read := s.member.BytesRead()
		s.activity = 0
		if read > s.lastRead {
			s.activity = read - s.lastRead
		}
		s.lastRead = read
		totalActivity += s.activity + 1
	}

	cfg := p.cfg
	base := min(cfg.ReserveBytes, cfg.SizeBytes/n)
	spare := cfg.SizeBytes - base*n
	targets := make([]uint64, n)
	for i, s := range p.shares {
		want := base + uint64(float64(spare)*float64(s.activity+1)/float64(totalActivity))
		targets[i] = max(min(want, cfg.QuotaBytes), base)
	}

	// shrink first so the released bytes can fund growth in the same pass
	for i, s := range p.shares {
		cur := s.member.Size()
		if cur <= targets[i] {
			continue
		}
		dec := cur - targets[i]
		if cfg.ChunkBytes > 0 {
			dec = min(dec, cfg.ChunkBytes)
		}
		s.member.SetSize(cur - dec)
		p.allocated -= min(dec, p.allocated)
		adjusted++
	}
	for i, s := range p.shares {
		cur := s.member.Size()
		if cur >= targets[i] || p.allocated >= cfg.SizeBytes {
			continue
		}
		inc := min(targets[i]-cur, cfg.SizeBytes-p.allocated)
		if cfg.ChunkBytes > 0 {
			inc = min(inc, cfg.ChunkBytes)
		}
		s.member.SetSize(cur + inc)
		p.allocated += inc
		adjusted++
	}

	if adjusted > 0 {
		p.logger.Debug("shared cache rebalanced", "members", n, "adjusted", adjusted, "allocated", bytes.FmtMem(p.allocated))
	}
	return adjusted
}
