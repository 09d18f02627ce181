package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	tl := newTool(zerolog.Nop())
	var out bytes.Buffer
	tl.Root.SetOut(&out)
	tl.Root.SetErr(&out)
	tl.Root.SetArgs(args)
	err := tl.Root.Execute()
	return out.String(), err
}

// TestValidate_ResolvesAbsoluteThresholds verifies that byte-valued thresholds are printed as percentages.
func TestValidate_ResolvesAbsoluteThresholds(t *testing.T) {
	path := writeConfig(t, `
cache_size: 104857600
eviction_target: 80
eviction_trigger: 94
eviction_dirty_target: 10485760
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)

	var doc struct {
		Cache map[string]any `yaml:"cache"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.EqualValues(t, 104857600, doc.Cache["cache_size"])
	require.EqualValues(t, 10, doc.Cache["eviction_dirty_target"])
	require.NotContains(t, out, "shared_cache:")
}

// TestValidate_Shared verifies that a shared pool section is resolved and printed.
func TestValidate_Shared(t *testing.T) {
	path := writeConfig(t, `
shared_cache:
  name: pool
  size: 104857600
  chunk: 1048576
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "shared_cache:")
	require.Contains(t, out, "name: pool")
	require.Contains(t, out, "shared_cache_name: pool")
}

// TestValidate_Rejects verifies that an invalid configuration fails the command.
func TestValidate_Rejects(t *testing.T) {
	path := writeConfig(t, `
eviction_target: 95
eviction_trigger: 90
`)
	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
}

// TestRun_ShortWorkload verifies that a brief workload completes and prints a summary.
func TestRun_ShortWorkload(t *testing.T) {
	path := writeConfig(t, `
cache_size: 4MB
`)
	out, err := execute(t, "run", "--config", path, "--duration", "200ms", "--readers", "2", "--page-size", "8KB")
	require.NoError(t, err)
	require.Contains(t, out, "pages evicted:")
	require.Contains(t, out, "state:")
}

// TestZerologHandler verifies that slog records keep their level, message and attributes.
func TestZerologHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newSlog(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.Debug("hidden")
	logger.With("cache", "c1").WithGroup("eviction").Warn("stuck", "idle", 3, "fatal", true)

	out := buf.String()
	require.False(t, strings.Contains(out, "hidden"))
	require.Contains(t, out, `"level":"warn"`)
	require.Contains(t, out, `"message":"stuck"`)
	require.Contains(t, out, `"cache":"c1"`)
	require.Contains(t, out, `"eviction.idle":3`)
	require.Contains(t, out, `"eviction.fatal":true`)
	require.True(t, logger.Enabled(t.Context(), slog.LevelError))
}

// TestRun_Shared verifies that a workload runs with its budget governed by a shared pool.
func TestRun_Shared(t *testing.T) {
	path := writeConfig(t, `
shared_cache:
  name: pool
  size: 8MB
  chunk: 1MB
`)
	out, err := execute(t, "run", "--config", path, "--duration", "200ms", "--readers", "2", "--rebalance-rate", "50")
	require.NoError(t, err)
	require.Contains(t, out, "cache size:")
}
