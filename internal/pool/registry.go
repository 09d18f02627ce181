package pool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/internal/shared/rate"
	"github.com/cockroachdb/errors"
	"go.uber.org/ratelimit"
)

// Registry maps shared cache names to pools. Connections that should share memory
// are handed the same Registry.
type Registry struct {
	logger *slog.Logger
	mu     sync.Mutex
	pools  map[string]*Pool
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, pools: make(map[string]*Pool)}
}

// Join enrolls m in the pool named by cfg, creating the pool on first use.
func (r *Registry) Join(cfg *config.Pool, m Member) (*Pool, error) {
	if cfg == nil || cfg.Name == "" {
		return nil, errors.Mark(errors.New("shared cache name is required"), config.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[cfg.Name]
	if !ok {
		p = newPool(r.logger, cfg)
		r.pools[cfg.Name] = p
		r.logger.Info("shared cache pool created", "pool", cfg.Name)
	} else {
		p.reconfigure(cfg)
	}
	if err := p.join(m); err != nil {
		return nil, err
	}
	return p, nil
}

// Leave removes m from the named pool; the pool is destroyed with its last member.
func (r *Registry) Leave(name string, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[name]
	if !ok {
		return errors.Newf("shared cache %q does not exist", name)
	}
	remaining, err := p.leave(m)
	if err != nil {
		return err
	}
	if remaining == 0 {
		delete(r.pools, name)
		r.logger.Info("shared cache pool destroyed", "pool", name)
	}
	return nil
}

// Configure applies new settings to an existing pool; the last writer wins.
func (r *Registry) Configure(cfg *config.Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[cfg.Name]
	if !ok {
		return errors.Newf("shared cache %q does not exist", cfg.Name)
	}
	p.reconfigure(cfg)
	return nil
}

func (r *Registry) Get(name string) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[name]
	return p, ok
}

func (r *Registry) snapshot() []*Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	return pools
}

// Rebalance rebalances every pool once.
func (r *Registry) Rebalance() (adjusted int) {
	for _, p := range r.snapshot() {
		adjusted += p.Rebalance()
	}
	return adjusted
}

// Run rebalances every pool perSec times a second until ctx is done.
func (r *Registry) Run(ctx context.Context, perSec int, opts ...ratelimit.Option) {
	pacer := rate.NewPacer(ctx, perSec, opts...)
	r.logger.Info("shared cache balancer is running", "rate", pacer.Rate())
	defer func() {
		r.logger.Info("shared cache balancer is stopped", "rebalances", pacer.Issued())
	}()

	for pacer.Wait(ctx) {
		r.Rebalance()
	}
}
