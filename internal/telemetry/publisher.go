package telemetry

import (
	"sync"

	"github.com/Borislavv/go-ash-evict/internal/cache"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ashevict"

var stateFlags = []struct {
	flag cache.State
	name string
}{
	{cache.StateClean, "clean"},
	{cache.StateCleanHard, "clean_hard"},
	{cache.StateDirty, "dirty"},
	{cache.StateDirtyHard, "dirty_hard"},
	{cache.StateUpdates, "updates"},
	{cache.StateUpdatesHard, "updates_hard"},
	{cache.StateScrub, "scrub"},
	{cache.StateAggressive, "aggressive"},
}

// Publisher exports the cache statistics as Prometheus gauges. Refresh recomputes every
// gauge from the live counters; nothing is pushed by the hot paths.
type Publisher struct {
	reg        prometheus.Registerer
	collectors []prometheus.Collector
	store      *cache.Store
	ev         Evictor

	bytes    *prometheus.GaugeVec
	pages    *prometheus.GaugeVec
	state    *prometheus.GaugeVec
	scores   *prometheus.GaugeVec
	workers  *prometheus.GaugeVec
	walks    prometheus.Gauge
	maxima   *prometheus.GaugeVec
	eviction *prometheus.GaugeVec

	mu   sync.Mutex
	last Stats
}

// NewPublisher registers the gauges of one connection, labelled with name, on reg.
func NewPublisher(reg prometheus.Registerer, name string, store *cache.Store, ev Evictor) (*Publisher, error) {
	labels := prometheus.Labels{"cache": name}
	vec := func(subsystem, metric, help, label string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, []string{label})
	}

	p := &Publisher{
		reg:      reg,
		store:    store,
		ev:       ev,
		bytes:    vec("cache", "bytes", "Cache bytes by category.", "kind"),
		pages:    vec("cache", "pages", "Cache pages by category.", "kind"),
		state:    vec("cache", "state", "Eviction state flags, 1 when set.", "flag"),
		scores:   vec("eviction", "score", "Eviction tuning scores, 0 to 100.", "score"),
		workers:  vec("eviction", "workers", "Eviction worker counts.", "kind"),
		maxima:   vec("eviction", "max", "Maxima observed by eviction and reconciliation.", "kind"),
		eviction: vec("eviction", "events", "Cumulative eviction and queue events.", "event"),
		walks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "eviction",
			Name:        "active_walks",
			Help:        "Trees with an active eviction walk.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{p.bytes, p.pages, p.state, p.scores, p.workers, p.walks, p.maxima, p.eviction} {
		if err := reg.Register(c); err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "registering statistics of cache %q", name)
		}
		p.collectors = append(p.collectors, c)
	}
	p.Refresh()
	return p, nil
}

// Refresh recomputes every gauge and returns the statistics it published.
func (p *Publisher) Refresh() Stats {
	s := Collect(p.store, p.ev)

	for kind, v := range map[string]uint64{
		"max":         s.BytesMax,
		"inuse":       s.BytesInuse,
		"dirty":       s.BytesDirty,
		"dirty_total": s.BytesDirtyTotal,
		"hs":          s.BytesHS,
		"image":       s.BytesImage,
		"internal":    s.BytesInternal,
		"leaf":        s.BytesLeaf,
		"other":       s.BytesOther,
		"updates":     s.BytesUpdates,
		"read":        s.BytesRead,
	} {
		p.bytes.WithLabelValues(kind).Set(float64(v))
	}
	p.bytes.WithLabelValues("overhead_pct").Set(float64(s.OverheadPct))

	p.pages.WithLabelValues("inuse").Set(float64(s.PagesInuse))
	p.pages.WithLabelValues("dirty").Set(float64(s.PagesDirty))
	p.pages.WithLabelValues("evicted").Set(float64(s.PagesEvicted))

	for _, f := range stateFlags {
		v := 0.0
		if s.State.Has(f.flag) {
			v = 1
		}
		p.state.WithLabelValues(f.name).Set(v)
	}

	p.scores.WithLabelValues("aggressive").Set(float64(s.AggressiveScore))
	p.scores.WithLabelValues("empty").Set(float64(s.EmptyScore))
	p.workers.WithLabelValues("active").Set(float64(s.ActiveWorkers))
	p.workers.WithLabelValues("stable").Set(float64(s.StableWorkers))
	p.walks.Set(float64(s.ActiveWalks))

	p.maxima.WithLabelValues("evict_page_bytes").Set(float64(s.EvictMaxPageSize))
	p.maxima.WithLabelValues("evict_ms").Set(float64(s.EvictMaxMs))
	p.maxima.WithLabelValues("reentry_hs_ms").Set(float64(s.ReentryHSMs))
	p.maxima.WithLabelValues("reconcile_ms").Set(float64(s.RecMaxMs))
	p.maxima.WithLabelValues("reconcile_hs_wrapup_ms").Set(float64(s.RecMaxHSWrapupMs))
	p.maxima.WithLabelValues("reconcile_image_build_ms").Set(float64(s.RecMaxImageMs))

	m := s.Eviction
	for event, v := range map[string]int64{
		"walks":               m.Walks,
		"walk_errors":         m.WalkErrors,
		"walk_empty":          m.WalkEmpty,
		"evicted_pages":       m.EvictedPages,
		"evicted_bytes":       m.EvictedBytes,
		"evict_fails":         m.EvictFails,
		"app_evicted":         m.AppEvicted,
		"app_waits":           m.AppWaits,
		"app_timeouts":        m.AppTimeouts,
		"pages_queued":        m.PagesQueued,
		"pages_queued_urgent": m.PagesQueuedUrgent,
		"already_queued":      m.AlreadyQueued,
		"clear_ordinary":      m.ClearOrdinary,
		"get_ref":             m.GetRef,
		"get_ref_empty":       m.GetRefEmpty,
		"queue_grows":         m.QueueGrows,
		"wakeups":             m.Wakeups,
		"wait_interval_us":    m.WaitIntervalUs,
	} {
		p.eviction.WithLabelValues(event).Set(float64(v))
	}

	p.mu.Lock()
	p.last = s
	p.mu.Unlock()
	return s
}

// Close unregisters every gauge, so a cache of the same name can register again.
func (p *Publisher) Close() {
	for _, c := range p.collectors {
		p.reg.Unregister(c)
	}
	p.collectors = nil
}

// Last returns the statistics of the latest Refresh.
func (p *Publisher) Last() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
