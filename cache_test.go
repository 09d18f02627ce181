package ashevict

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/internal/evictor"
	"github.com/Borislavv/go-ash-evict/internal/sim"
	"github.com/Borislavv/go-ash-evict/model"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	kb = 1 << 10
	mb = 1 << 20
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// simFactory builds a simulated tree and remembers it for the test.
func simFactory(t *testing.T, opts sim.Options, out **sim.Tree) TreeFactory {
	return func(store *Store) (Tree, error) {
		tree, err := sim.New("t", store, opts)
		if err != nil {
			return nil, err
		}
		*out = tree
		return tree, nil
	}
}

func open(t *testing.T, overrides map[string]any, opts Options) (*Cache, *sim.Tree) {
	t.Helper()
	base := map[string]any{
		config.KeyCacheSize:     int64(4 * mb),
		config.KeyCacheOverhead: int64(0),
		config.KeyThreadsMin:    int64(1),
		config.KeyThreadsMax:    int64(2),
	}
	for k, v := range overrides {
		base[k] = v
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	var tree *sim.Tree
	c, err := Open(context.Background(), config.NewSource(base), simFactory(t, sim.Options{}, &tree), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		tree.Close()
		_ = c.Close()
	})
	return c, tree
}

// TestOpen_Local verifies that a local cache takes its size from the configuration and starts its workers.
func TestOpen_Local(t *testing.T) {
	c, _ := open(t, nil, Options{})

	require.Equal(t, uint64(4*mb), c.Store().Size())
	_, shared := c.Shared()
	require.False(t, shared)
	require.Equal(t, "default", c.Name())
	require.Equal(t, uint32(1), c.Stats().ActiveWorkers)
	require.NoError(t, c.Err())
}

// TestOpen_InvalidConfiguration verifies that validation failures surface as invalid-argument errors.
func TestOpen_InvalidConfiguration(t *testing.T) {
	src := config.NewSource(map[string]any{
		config.KeyThreadsMin: int64(8),
		config.KeyThreadsMax: int64(4),
	})
	var tree *sim.Tree
	_, err := Open(context.Background(), src, simFactory(t, sim.Options{}, &tree), Options{Logger: discardLogger()})
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Nil(t, tree, "no tree is built for an invalid configuration")
}

// TestOpen_SharedRequiresRegistry verifies that a shared configuration needs a registry.
func TestOpen_SharedRequiresRegistry(t *testing.T) {
	src := config.NewSource(map[string]any{config.KeySharedCacheName: "pool1"})
	var tree *sim.Tree
	_, err := Open(context.Background(), src, simFactory(t, sim.Options{}, &tree), Options{Logger: discardLogger()})
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

// TestOpen_TreeFailure verifies that a failing tree factory tears the cache down.
func TestOpen_TreeFailure(t *testing.T) {
	registry := NewRegistry(discardLogger())
	src := config.NewSource(map[string]any{config.KeySharedCacheName: "pool1"})
	_, err := Open(context.Background(), src, func(*Store) (Tree, error) {
		return nil, errors.New("boom")
	}, Options{Logger: discardLogger(), Registry: registry})
	require.ErrorContains(t, err, "boom")

	_, ok := registry.Get("pool1")
	require.False(t, ok, "the pool is left on failure")
}

// TestOpen_PublisherFailure verifies that a failed gauge registration stops the workers it started
// and leaves the registered cache of the same name untouched.
func TestOpen_PublisherFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := open(t, nil, Options{Registerer: reg, Name: "dup"})

	var tree *sim.Tree
	_, err := Open(context.Background(), config.NewSource(nil), simFactory(t, sim.Options{}, &tree),
		Options{Logger: discardLogger(), Registerer: reg, Name: "dup"})
	require.Error(t, err)
	tree.Close()

	require.Equal(t, float64(c.Stats().PagesInuse), gauge(t, reg, "ashevict_cache_pages", "inuse"))
}

// TestOpen_Shared verifies that a shared cache starts at the pool reserve with percentages untouched.
func TestOpen_Shared(t *testing.T) {
	registry := NewRegistry(discardLogger())
	c, _ := open(t, map[string]any{
		config.KeySharedCacheName:    "pool1",
		config.KeySharedCacheSize:    int64(100 * mb),
		config.KeySharedCacheReserve: int64(20 * mb),
		config.KeyEvictionTarget:     70.0,
	}, Options{Registry: registry})

	name, shared := c.Shared()
	require.True(t, shared)
	require.Equal(t, "pool1", name)
	require.Equal(t, uint64(20*mb), c.Store().Size())
	require.Equal(t, 70.0, c.Store().Config().EvictionTarget)
	require.Equal(t, "pool1", c.Store().Config().SharedCacheName)

	p, ok := registry.Get("pool1")
	require.True(t, ok)
	require.Equal(t, 1, p.Members())
}

// TestOpen_SharedRejectsAbsolute verifies that absolute thresholds are refused in shared mode.
func TestOpen_SharedRejectsAbsolute(t *testing.T) {
	src := config.NewSource(map[string]any{
		config.KeySharedCacheName: "pool1",
		config.KeyEvictionTarget:  150.0,
	})
	var tree *sim.Tree
	_, err := Open(context.Background(), src, simFactory(t, sim.Options{}, &tree), Options{
		Logger:   discardLogger(),
		Registry: NewRegistry(discardLogger()),
	})
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.ErrorContains(t, err, "eviction target")
}

// TestReconfigure_LocalToSharedAndBack verifies both pool transitions and that thresholds survive them.
func TestReconfigure_LocalToSharedAndBack(t *testing.T) {
	registry := NewRegistry(discardLogger())
	c, _ := open(t, map[string]any{config.KeyEvictionTarget: 70.0}, Options{Registry: registry})
	require.Equal(t, uint64(4*mb), c.Store().Size())

	shared := config.NewSource(map[string]any{
		config.KeySharedCacheName:    "pool1",
		config.KeySharedCacheSize:    int64(64 * mb),
		config.KeySharedCacheReserve: int64(8 * mb),
		config.KeyEvictionTarget:     70.0,
		config.KeyThreadsMin:         int64(1),
		config.KeyThreadsMax:         int64(2),
	})
	require.NoError(t, c.Reconfigure(shared))
	require.Equal(t, uint64(8*mb), c.Store().Size())
	require.Equal(t, 70.0, c.Store().Config().EvictionTarget)
	_, ok := registry.Get("pool1")
	require.True(t, ok)

	local := config.NewSource(map[string]any{
		config.KeyCacheSize:      int64(16 * mb),
		config.KeyEvictionTarget: 70.0,
		config.KeyThreadsMin:     int64(1),
		config.KeyThreadsMax:     int64(2),
	})
	require.NoError(t, c.Reconfigure(local))
	require.Equal(t, uint64(16*mb), c.Store().Size())
	_, isShared := c.Shared()
	require.False(t, isShared)
	_, ok = registry.Get("pool1")
	require.False(t, ok, "the last member leaving destroys the pool")
}

// TestReconfigure_ResizesWorkers verifies that new thread bounds take effect.
func TestReconfigure_ResizesWorkers(t *testing.T) {
	c, _ := open(t, nil, Options{})

	require.NoError(t, c.Reconfigure(config.NewSource(map[string]any{
		config.KeyCacheSize:  int64(4 * mb),
		config.KeyThreadsMin: int64(3),
		config.KeyThreadsMax: int64(6),
	})))
	minThreads, maxThreads := c.workers.Bounds()
	require.Equal(t, uint32(3), minThreads)
	require.Equal(t, uint32(6), maxThreads)
	require.Equal(t, uint32(6), c.workers.RunningWorkers())
}

// TestReconfigure_InvalidKeepsConfiguration verifies that a failed reconfiguration changes nothing.
func TestReconfigure_InvalidKeepsConfiguration(t *testing.T) {
	c, _ := open(t, nil, Options{})
	before := *c.Store().Config()

	err := c.Reconfigure(config.NewSource(map[string]any{
		config.KeyEvictionTarget:  90.0,
		config.KeyEvictionTrigger: 85.0,
	}))
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Equal(t, before, *c.Store().Config())
}

// TestCache_AdmitBlocksUntilRelief verifies that an admission above the trigger with nothing
// evictable waits indefinitely, then proceeds once eviction brings usage back down.
func TestCache_AdmitBlocksUntilRelief(t *testing.T) {
	c, tree := open(t, map[string]any{
		config.KeyCacheMaxWaitMs:      int64(0),
		config.KeyCacheStuckTimeoutMs: int64(0),
	}, Options{})

	var pages []*sim.Page
	for range 390 {
		p, err := tree.Read(10*kb, false)
		require.NoError(t, err)
		p.Pin()
		pages = append(pages, p)
	}
	require.True(t, c.Store().UpdateState().Hard())

	done := make(chan error, 1)
	go func() { done <- c.Admit(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("admission returned while nothing could be evicted: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	require.Zero(t, c.workers.Queues().Len(evictor.RoleCurrent)+c.workers.Queues().Len(evictor.RoleOther))

	for _, p := range pages {
		p.Unpin()
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admission did not proceed after eviction")
	}
	require.False(t, c.Store().UpdateState().Hard())
	require.Positive(t, tree.Evicted())
}

// TestCache_Workload verifies that a concurrent read/modify load stays admitted and bounded.
func TestCache_Workload(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, tree := open(t, map[string]any{
		config.KeyEvictionDirtyTarget:  10.0,
		config.KeyEvictionDirtyTrigger: 40.0,
		config.KeyThreadsMax:           int64(4),
	}, Options{Registerer: reg, Name: "workload"})

	res, err := tree.Run(context.Background(), c.Admit, sim.Workload{
		Readers:     4,
		Duration:    300 * time.Millisecond,
		PageSize:    16 * kb,
		InternalPct: 0.1,
		ModifyPct:   0.3,
		UpdateBytes: 512,
	}, func(err error) bool { return errors.Is(err, ErrCacheFull) })
	require.NoError(t, err)
	require.Positive(t, res.Reads)
	require.Positive(t, res.Modifies)

	s := c.Stats()
	require.Positive(t, s.PagesEvicted)
	require.Positive(t, s.Eviction.EvictedPages)
	require.Positive(t, tree.Written(), "dirty pages are written on eviction")
	require.Less(t, s.BytesInuse, uint64(5*mb), "usage stays near the configured size")
	require.Equal(t, float64(s.PagesInuse), gauge(t, reg, "ashevict_cache_pages", "inuse"))
}

// gauge reads a single labelled gauge from a registry.
func gauge(t *testing.T, reg *prometheus.Registry, name, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("gauge %s{kind=%q} not found", name, kind)
	return 0
}

// TestCache_QueueUrgentAndPurge verifies forced eviction and purging of a closing tree's candidates.
func TestCache_QueueUrgentAndPurge(t *testing.T) {
	c, tree := open(t, nil, Options{})

	p, err := tree.Read(64*kb, false)
	require.NoError(t, err)
	require.True(t, c.QueueUrgent(p))
	require.Eventually(t, func() bool { return tree.Evicted() == 1 }, 5*time.Second, 5*time.Millisecond)

	q, err := tree.Read(kb, false)
	require.NoError(t, err)
	q.Pin()
	require.True(t, c.QueueUrgent(q))
	require.Equal(t, 0, c.PurgeTree("other"))
	// the pinned page is either still queued or was dropped as busy
	require.LessOrEqual(t, c.PurgeTree("t"), 1)
	q.Unpin()
}

// TestCache_Close verifies that Close leaves the pool and reports no leak once pages are discarded.
func TestCache_Close(t *testing.T) {
	registry := NewRegistry(discardLogger())
	var tree *sim.Tree
	c, err := Open(context.Background(), config.NewSource(map[string]any{
		config.KeySharedCacheName: "pool1",
		config.KeyThreadsMin:      int64(1),
		config.KeyThreadsMax:      int64(1),
	}), simFactory(t, sim.Options{}, &tree), Options{Logger: discardLogger(), Registry: registry})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 25 {
				_, _ = tree.Read(kb, false)
			}
		})
	}
	wg.Wait()
	tree.Close()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
	require.Empty(t, c.Store().Destroy())
	_, ok := registry.Get("pool1")
	require.False(t, ok)
	require.Error(t, c.Reconfigure(config.NewSource(nil)))
}

// TestCache_CloseReleasesGauges verifies that a closed cache frees its gauge names for the next Open.
func TestCache_CloseReleasesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, _ := open(t, nil, Options{Registerer: reg, Name: "x"})
	require.NoError(t, first.Close())

	second, _ := open(t, nil, Options{Registerer: reg, Name: "x"})
	require.Equal(t, float64(second.Stats().PagesInuse), gauge(t, reg, "ashevict_cache_pages", "inuse"))
}

// TestCache_AdmitReturnsAfterClose verifies that Close releases an admission blocked
// behind pages nothing can evict, and that later calls are refused.
func TestCache_AdmitReturnsAfterClose(t *testing.T) {
	c, tree := open(t, map[string]any{
		config.KeyCacheMaxWaitMs:      int64(0),
		config.KeyCacheStuckTimeoutMs: int64(0),
	}, Options{})

	var pages []*sim.Page
	for range 390 {
		p, err := tree.Read(10*kb, false)
		require.NoError(t, err)
		p.Pin()
		pages = append(pages, p)
	}
	require.True(t, c.Store().UpdateState().Hard())

	done := make(chan error, 1)
	go func() { done <- c.Admit(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("admission did not return after close")
	}

	require.True(t, errors.Is(c.Admit(context.Background()), ErrClosed))
	require.False(t, c.QueueUrgent(pages[0]))
	for _, p := range pages {
		p.Unpin()
	}
}

var _ model.Candidate = (*sim.Page)(nil)
