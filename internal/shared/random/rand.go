// Package random is a lock-free uniform source for hot paths that must not contend
// on a shared generator: admission backoff jitter and workload draws.
package random

import (
	"runtime"
	"sync/atomic"
	"time"
)

const golden = 0x9e3779b97f4a7c15

// Source spreads draws over SplitMix64 lanes picked round robin.
type Source struct {
	lanes []atomic.Uint64
	mask  uint32
	next  atomic.Uint32
}

var global atomic.Pointer[Source]

func init() { Init(0) }

// New builds a Source with the lane count rounded up to a power of two.
// lanes <= 0 picks four per GOMAXPROCS.
func New(lanes int, seed int64) *Source {
	if lanes <= 0 {
		lanes = max(runtime.GOMAXPROCS(0)*4, 1)
	}
	n := 1
	for n < lanes {
		n <<= 1
	}

	s := &Source{lanes: make([]atomic.Uint64, n), mask: uint32(n - 1)}
	state := mix(uint64(seed) + golden)
	for i := range s.lanes {
		state += golden
		v := mix(state)
		if v == 0 {
			v = golden
		}
		s.lanes[i].Store(v)
	}
	return s
}

// Init replaces the package Source.
func Init(lanes int) { global.Store(New(lanes, time.Now().UnixNano())) }

// Uint64 returns 64 uniform bits.
func (s *Source) Uint64() uint64 {
	lane := &s.lanes[s.next.Add(1)&s.mask]
	for {
		old := lane.Load()
		x := old + golden
		if lane.CompareAndSwap(old, x) {
			return mix(x)
		}
	}
}

// Float64 returns a uniform value in [0,1) built from the top 53 bits.
func (s *Source) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// Chance reports true with probability p.
func (s *Source) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return p >= 1 || s.Float64() < p
}

// Jitter returns d stretched by a uniform factor in [1, 1+frac).
func (s *Source) Jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	return d + time.Duration(s.Float64()*frac*float64(d))
}

func Float64() float64 { return global.Load().Float64() }

func Chance(p float64) bool { return global.Load().Chance(p) }

func Jitter(d time.Duration, frac float64) time.Duration { return global.Load().Jitter(d, frac) }

func mix(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return z
}
