package telemetry

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	walks        uint64
	walkEmpty    uint64
	evictedPages uint64
	evictedBytes uint64
	evictFails   uint64
	appEvicted   uint64
	appWaits     uint64
	appTimeouts  uint64
	getRefEmpty  uint64
	bytesRead    uint64
}

func sample(s Stats) snapshot {
	m := s.Eviction
	return snapshot{
		walks:        uint64(max(m.Walks, 0)),
		walkEmpty:    uint64(max(m.WalkEmpty, 0)),
		evictedPages: uint64(max(m.EvictedPages, 0)),
		evictedBytes: uint64(max(m.EvictedBytes, 0)),
		evictFails:   uint64(max(m.EvictFails, 0)),
		appEvicted:   uint64(max(m.AppEvicted, 0)),
		appWaits:     uint64(max(m.AppWaits, 0)),
		appTimeouts:  uint64(max(m.AppTimeouts, 0)),
		getRefEmpty:  uint64(max(m.GetRefEmpty, 0)),
		bytesRead:    s.BytesRead,
	}
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas.
// If counters reset (cur < prev), it treats cur as the delta.
func deltaSnapshot(prev, cur snapshot) snapshot {
	return snapshot{
		walks:        delta(prev.walks, cur.walks),
		walkEmpty:    delta(prev.walkEmpty, cur.walkEmpty),
		evictedPages: delta(prev.evictedPages, cur.evictedPages),
		evictedBytes: delta(prev.evictedBytes, cur.evictedBytes),
		evictFails:   delta(prev.evictFails, cur.evictFails),
		appEvicted:   delta(prev.appEvicted, cur.appEvicted),
		appWaits:     delta(prev.appWaits, cur.appWaits),
		appTimeouts:  delta(prev.appTimeouts, cur.appTimeouts),
		getRefEmpty:  delta(prev.getRefEmpty, cur.getRefEmpty),
		bytesRead:    delta(prev.bytesRead, cur.bytesRead),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}
