package cache

import "strings"

// State is the eviction-state flag set. It is always loaded and stored as a whole.
type State uint32

const (
	StateClean       State = 1 << iota // bytes in use above the eviction target
	StateCleanHard                     // bytes in use above the eviction trigger
	StateDirty                         // dirty bytes above the dirty target
	StateDirtyHard                     // dirty bytes above the dirty trigger
	StateUpdates                       // update bytes above the updates target
	StateUpdatesHard                   // update bytes above the updates trigger
	StateScrub                         // write dirty pages but keep clean copies
	StateAggressive                    // workers run at full strength
)

const (
	stateSoft     = StateClean | StateDirty | StateUpdates
	stateHard     = StateCleanHard | StateDirtyHard | StateUpdatesHard
	stateComputed = stateSoft | stateHard | StateScrub
)

func (s State) Has(f State) bool { return s&f == f }

// NeedsEviction reports whether any usage is above its target.
func (s State) NeedsEviction() bool { return s&(stateSoft|stateHard) != 0 }

// Hard reports whether any usage is above its trigger: application threads must help or wait.
func (s State) Hard() bool { return s&stateHard != 0 }

func (s State) Aggressive() bool { return s.Has(StateAggressive) }

func (s State) String() string {
	if s == 0 {
		return "none"
	}
	names := []struct {
		f    State
		name string
	}{
		{StateClean, "clean"},
		{StateCleanHard, "clean_hard"},
		{StateDirty, "dirty"},
		{StateDirtyHard, "dirty_hard"},
		{StateUpdates, "updates"},
		{StateUpdatesHard, "updates_hard"},
		{StateScrub, "scrub"},
		{StateAggressive, "aggressive"},
	}
	var parts []string
	for _, n := range names {
		if s.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
