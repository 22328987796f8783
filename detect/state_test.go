package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowStateStoreUpdate(t *testing.T) {
	store := NewWindowStateStore()

	store.Update("rule-1", "10.0.0.1", func(st *WindowState) bool {
		st.Events = append(st.Events, EventRef{ID: "e1", Timestamp: time.Now()})
		st.Count = len(st.Events)
		return true
	})
	assert.Equal(t, 1, store.Len())

	var observed int
	store.Update("rule-1", "10.0.0.1", func(st *WindowState) bool {
		observed = st.Count
		return true
	})
	assert.Equal(t, 1, observed, "state persists between updates")

	store.Update("rule-1", "10.0.0.1", func(st *WindowState) bool {
		return false
	})
	assert.Equal(t, 0, store.Len(), "returning false discards the entry")
}

func TestWindowStateStoreKeysAreIndependent(t *testing.T) {
	store := NewWindowStateStore()

	touch := func(ruleID, group string) {
		store.Update(ruleID, group, func(st *WindowState) bool {
			st.Count++
			return true
		})
	}

	touch("rule-1", "a")
	touch("rule-1", "b")
	touch("rule-2", "a")
	assert.Equal(t, 3, store.Len())
}

func TestWindowStateStoreSweep(t *testing.T) {
	store := NewWindowStateStore()
	now := time.Now().UTC()

	store.Update("rule-1", "stale", func(st *WindowState) bool {
		st.WindowStart = now.Add(-15 * time.Minute)
		return true
	})
	store.Update("rule-1", "fresh", func(st *WindowState) bool {
		st.WindowStart = now.Add(-1 * time.Minute)
		return true
	})

	removed := store.Sweep(10*time.Minute, now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	var fresh bool
	store.Update("rule-1", "fresh", func(st *WindowState) bool {
		fresh = !st.WindowStart.IsZero()
		return true
	})
	assert.True(t, fresh, "the fresh entry survives the sweep")
}
