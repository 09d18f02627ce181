package evictor

import (
	"time"

	"github.com/Borislavv/go-ash-evict/config"
	"github.com/cockroachdb/errors"
)

var (
	// ErrCacheFull is the retryable "try again" class: no eviction relief arrived within cache_max_wait_ms.
	ErrCacheFull = errors.New("cache full")
	// ErrStuck is the fatal class: eviction made no progress within cache_stuck_timeout_ms.
	ErrStuck = errors.New("cache eviction stuck")
	// ErrClosed is returned to application threads once the pool is closed and no relief can come.
	ErrClosed = errors.New("cache eviction is closed")
)

func cacheFullError(waited time.Duration) error {
	return errors.Mark(errors.Newf("no eviction relief within %s", waited), ErrCacheFull)
}

func stuckError(idle time.Duration) error {
	return errors.Mark(errors.Newf("cache eviction made no progress for %s", idle), ErrStuck)
}

func invalidf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), config.ErrInvalidArgument)
}
