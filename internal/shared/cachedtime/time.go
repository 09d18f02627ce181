// Package cachedtime provides a coarse clock refreshed in the background.
// Reads are a single atomic load, cheap enough for per-eviction progress stamps.
package cachedtime

import (
	"sync/atomic"
	"time"
)

// Resolution is the refresh interval of the clock.
const Resolution = 5 * time.Millisecond

var nowUnix atomic.Int64

func init() {
	nowUnix.Store(time.Now().UnixNano())
	go refresh()
}

func refresh() {
	ticker := time.NewTicker(Resolution)
	defer ticker.Stop()
	for tt := range ticker.C {
		nowUnix.Store(tt.UnixNano())
	}
}

func Now() time.Time {
	return time.Unix(0, UnixNano())
}

func UnixNano() int64 {
	return nowUnix.Load()
}

func Since(unixNano int64) time.Duration {
	return time.Duration(UnixNano() - unixNano)
}
