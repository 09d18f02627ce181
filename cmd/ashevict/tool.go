package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/Borislavv/go-ash-evict"
	"github.com/Borislavv/go-ash-evict/config"
	"github.com/Borislavv/go-ash-evict/internal/shared/bytes"
	"github.com/Borislavv/go-ash-evict/internal/sim"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// tool holds the flags and commands of the ashevict binary.
type tool struct {
	Root     *cobra.Command
	Validate *cobra.Command
	Run      *cobra.Command

	logger zerolog.Logger

	configPath  string
	verbose     bool
	duration    time.Duration
	readers     int
	pageSize    string
	modifyPct   float64
	updateBytes int64
	metricsAddr string
	rebalance   int
}

func newTool(logger zerolog.Logger) *tool {
	t := &tool{logger: logger}

	t.Root = &cobra.Command{
		Use:           "ashevict",
		Short:         "cache eviction core tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	t.Validate = &cobra.Command{
		Use:   "validate",
		Short: "validate a cache configuration",
		Long: `
Validate a YAML cache configuration and print it as it would be applied:
every threshold resolved to a percentage, auto-corrections included.
`,
		Args: cobra.NoArgs,
		RunE: t.runValidate,
	}
	t.Run = &cobra.Command{
		Use:   "run",
		Short: "run a simulated workload against the cache",
		Long: `
Open a cache over a simulated page set, drive a concurrent read/modify
workload through admission and print the resulting statistics.
`,
		Args: cobra.NoArgs,
		RunE: t.runWorkload,
	}

	t.Root.AddCommand(t.Validate, t.Run)
	t.Root.PersistentFlags().StringVarP(&t.configPath, "config", "c", "", "yaml configuration file (defaults only when empty)")
	t.Root.PersistentFlags().BoolVarP(&t.verbose, "verbose", "v", false, "debug logging")

	t.Run.Flags().DurationVar(&t.duration, "duration", 5*time.Second, "workload duration")
	t.Run.Flags().IntVar(&t.readers, "readers", 8, "concurrent readers")
	t.Run.Flags().StringVar(&t.pageSize, "page-size", "16KB", "size of every page read")
	t.Run.Flags().Float64Var(&t.modifyPct, "modify", 0.3, "share of reads followed by a modification")
	t.Run.Flags().Int64Var(&t.updateBytes, "update-bytes", 512, "bytes attached by a modification")
	t.Run.Flags().StringVar(&t.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	t.Run.Flags().IntVar(&t.rebalance, "rebalance-rate", 10, "shared cache rebalances per second")
	return t
}

func (t *tool) source() (config.Source, error) {
	if t.configPath == "" {
		return config.NewSource(), nil
	}
	return config.LoadSource(t.configPath)
}

func (t *tool) slogger() zerolog.Logger {
	if t.verbose {
		return t.logger.Level(zerolog.DebugLevel)
	}
	return t.logger.Level(zerolog.InfoLevel)
}

type validated struct {
	Cache *config.Cache `yaml:"cache"`
	Pool  *config.Pool  `yaml:"shared_cache,omitempty"`
}

func (t *tool) runValidate(cmd *cobra.Command, _ []string) error {
	src, err := t.source()
	if err != nil {
		return err
	}
	cfg, poolCfg, err := ashevict.Resolve(newSlog(t.slogger()), src)
	if err != nil {
		return err
	}

	out := validated{Cache: cfg, Pool: poolCfg}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "encoding configuration")
	}
	return enc.Close()
}

func (t *tool) runWorkload(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	src, err := t.source()
	if err != nil {
		return err
	}
	pageSize, err := config.ParseSize(t.pageSize)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	pools := ashevict.NewRegistry(newSlog(t.slogger()))
	go pools.Run(ctx, t.rebalance)

	var tree *sim.Tree
	c, err := ashevict.Open(ctx, src, func(store *ashevict.Store) (ashevict.Tree, error) {
		st, err := sim.New("sim", store, sim.Options{MaxPageSize: 1 << 20})
		tree = st
		return st, err
	}, ashevict.Options{
		Name:       "sim",
		Logger:     newSlog(t.slogger()),
		Registry:   pools,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	defer func() {
		tree.Close()
		_ = c.Close()
	}()

	if t.metricsAddr != "" {
		srv := &http.Server{Addr: t.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		t.logger.Info().Str("addr", t.metricsAddr).Msg("serving metrics")
	}

	t.logger.Info().
		Dur("duration", t.duration).
		Int("readers", t.readers).
		Str("page_size", bytes.FmtMem(uint64(pageSize))).
		Str("cache_size", bytes.FmtMem(c.Store().Size())).
		Msg("workload started")

	res, err := tree.Run(ctx, c.Admit, sim.Workload{
		Readers:     t.readers,
		Duration:    t.duration,
		PageSize:    pageSize,
		InternalPct: 0.05,
		ModifyPct:   t.modifyPct,
		UpdateBytes: t.updateBytes,
	}, func(err error) bool { return errors.Is(err, ashevict.ErrCacheFull) })
	if err != nil {
		return err
	}

	s := c.Stats()
	t.logger.Info().
		Int64("reads", res.Reads).
		Int64("modifies", res.Modifies).
		Int64("admit_fails", res.AdmitFails).
		Dur("elapsed", res.Elapsed).
		Msg("workload finished")

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "reads/s:        %.0f\n", float64(res.Reads)/res.Elapsed.Seconds())
	fmt.Fprintf(w, "cache size:     %s\n", bytes.FmtMem(s.BytesMax))
	fmt.Fprintf(w, "in use:         %s (%s)\n", bytes.FmtMem(s.BytesInuse), bytes.FmtPct(s.BytesInuse, s.BytesMax))
	fmt.Fprintf(w, "dirty:          %s\n", bytes.FmtMem(s.BytesDirty))
	fmt.Fprintf(w, "pages in use:   %d\n", s.PagesInuse)
	fmt.Fprintf(w, "pages evicted:  %d (app %d, written %d)\n", s.PagesEvicted, s.Eviction.AppEvicted, tree.Written())
	fmt.Fprintf(w, "app waits:      %d (%s total)\n", s.Eviction.AppWaits, time.Duration(s.Eviction.AppWaitUs)*time.Microsecond)
	fmt.Fprintf(w, "walks:          %d (%d empty)\n", s.Eviction.Walks, s.Eviction.WalkEmpty)
	fmt.Fprintf(w, "max evicted:    %s in %dms\n", bytes.FmtMem(s.EvictMaxPageSize), s.EvictMaxMs)
	fmt.Fprintf(w, "state:          %s\n", s.State)
	return nil
}
