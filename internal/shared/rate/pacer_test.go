package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/ratelimit"
)

// TestPacer_Wait verifies that permits keep arriving while the context is live.
func TestPacer_Wait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p := NewPacer(ctx, 20)
	for range 3 {
		require.True(t, p.Wait(ctx))
	}
	require.GreaterOrEqual(t, p.Issued(), int64(3))
}

// TestPacer_StopsOnCancel verifies that Wait reports false once the context is done.
func TestPacer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPacer(ctx, 100)
	require.True(t, p.Wait(ctx))
	cancel()

	require.False(t, p.Wait(ctx))
	require.Eventually(t, func() bool {
		return !p.Wait(context.Background())
	}, time.Second, 10*time.Millisecond)
}

// TestPacer_Per verifies that a custom period slows the permits down.
func TestPacer_Per(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPacer(ctx, 1, ratelimit.Per(time.Hour))
	require.True(t, p.Wait(ctx)) // the first permit is immediate

	short, stop := context.WithTimeout(ctx, 100*time.Millisecond)
	defer stop()
	require.False(t, p.Wait(short))
}

// TestNewPacer_ClampsRate verifies that a non-positive rate still issues permits.
func TestNewPacer_ClampsRate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p := NewPacer(ctx, 0)
	require.Equal(t, 1, p.Rate())
	require.True(t, p.Wait(ctx))
}
