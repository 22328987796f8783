package detect

import (
	"sync"
	"time"

	"argus/metrics"
)

// EventRef is one counted occurrence inside an active window.
type EventRef struct {
	ID        string
	Timestamp time.Time
}

// WindowState is the sliding-window accumulator for one rule/group pair.
type WindowState struct {
	Count       int
	WindowStart time.Time
	Events      []EventRef
}

// WindowStateStore holds threshold and correlation window state keyed by
// "ruleID:group". All access goes through Update and Sweep, which serialize
// on a single mutex: the read-modify-write of one group's window is a single
// transaction and never interleaves with another event or the sweep.
type WindowStateStore struct {
	mu      sync.Mutex
	entries map[string]*WindowState
}

// NewWindowStateStore creates an empty state store
func NewWindowStateStore() *WindowStateStore {
	return &WindowStateStore{entries: make(map[string]*WindowState)}
}

func stateKey(ruleID, group string) string {
	return ruleID + ":" + group
}

// Update runs fn against the state entry for the given rule and group,
// creating the entry if absent. Returning false from fn discards the entry,
// which is how threshold reset-on-fire and correlation clear-on-match work.
func (s *WindowStateStore) Update(ruleID, group string, fn func(state *WindowState) (keep bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(ruleID, group)
	state, ok := s.entries[key]
	if !ok {
		state = &WindowState{}
		s.entries[key] = state
	}
	if !fn(state) {
		delete(s.entries, key)
	}
	metrics.WindowStateEntries.Set(float64(len(s.entries)))
}

// Sweep discards every entry whose window started more than maxAge before
// now, bounding memory from groups that never re-trigger. Returns the number
// of entries removed.
func (s *WindowStateStore) Sweep(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, state := range s.entries {
		if now.Sub(state.WindowStart) > maxAge {
			delete(s.entries, key)
			removed++
		}
	}
	metrics.WindowStateSweeps.Inc()
	metrics.WindowStateEntries.Set(float64(len(s.entries)))
	return removed
}

// Len returns the number of live state entries
func (s *WindowStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
