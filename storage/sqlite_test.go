package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvent() *core.Event {
	event := core.NewEvent(core.SourceAuth)
	event.EventType = "authentication"
	event.Severity = core.SeverityWarning
	event.Hostname = "web-server-01"
	event.IPAddress = "192.168.1.100"
	event.User = "root"
	event.Description = "Failed SSH login"
	event.RawLog = "<13>Jan 18 10:30:45 web-server-01 sshd[1234]: Failed password"
	event.ParsedData["auth_result"] = "failure"
	event.ParsedData["source_port"] = 22
	return event
}

func sampleRule(id string, enabled bool) core.Rule {
	return core.Rule{
		ID:       id,
		Name:     "Rule " + id,
		Enabled:  enabled,
		Severity: core.SeverityWarning,
		RuleType: core.RuleTypeSignature,
		Conditions: &core.Condition{
			Field:  "event_type",
			Equals: "authentication",
		},
		Actions: core.Actions{Alert: true},
	}
}

func TestStoreAndGetEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	event := sampleEvent()

	require.NoError(t, store.StoreEvent(ctx, event))

	got, err := store.GetEventByID(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, "authentication", got.EventType)
	assert.Equal(t, "root", got.User)
	assert.Equal(t, "failure", got.ParsedData["auth_result"])
	assert.Equal(t, float64(22), got.ParsedData["source_port"], "numbers come back as float64 from JSON")

	_, err = store.GetEventByID(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreEventBatchAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var events []*core.Event
	for i := 0; i < 3; i++ {
		events = append(events, sampleEvent())
	}
	winEvent := core.NewEvent(core.SourceWindows)
	winEvent.EventType = "account"
	winEvent.Severity = core.SeverityCritical
	winEvent.Description = "User account created"
	winEvent.RawLog = "{}"
	events = append(events, winEvent)

	require.NoError(t, store.StoreEventBatch(ctx, events))

	all, err := store.GetEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	authOnly, err := store.GetEvents(ctx, EventFilter{Source: core.SourceAuth})
	require.NoError(t, err)
	assert.Len(t, authOnly, 3)

	critical, err := store.GetEvents(ctx, EventFilter{Severity: core.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, winEvent.EventID, critical[0].EventID)

	limited, err := store.GetEvents(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRuleLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRules(ctx, []core.Rule{
		sampleRule("r1", true),
		sampleRule("r2", false),
	}))

	enabled, err := store.GetEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "r1", enabled[0].ID)
	require.NotNil(t, enabled[0].Conditions)
	assert.Equal(t, "event_type", enabled[0].Conditions.Field)
	assert.True(t, enabled[0].Actions.Alert)

	require.NoError(t, store.SetRuleEnabled(ctx, "r2", true))
	enabled, err = store.GetEnabledRules(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	assert.ErrorIs(t, store.SetRuleEnabled(ctx, "ghost", true), ErrNotFound)

	require.NoError(t, store.IncrementRuleMatch(ctx, "r1"))
	require.NoError(t, store.IncrementRuleMatch(ctx, "r1"))
	rule, err := store.GetRuleByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rule.MatchCount)
	require.NotNil(t, rule.LastMatch)
	assert.WithinDuration(t, time.Now().UTC(), *rule.LastMatch, time.Minute)
}

func TestSaveRulesKeepsExplicitNullEquals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var cond core.Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field": "user", "equals": null}`), &cond))

	rule := sampleRule("null-check", true)
	rule.Conditions = &cond
	require.NoError(t, store.SaveRules(ctx, []core.Rule{rule}))

	loaded, err := store.GetEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.NotNil(t, loaded[0].Conditions)
	assert.True(t, loaded[0].Conditions.HasEquals(),
		"equals:null check must survive persistence")
}

func TestSaveRulesPreservesRuntimeState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRules(ctx, []core.Rule{sampleRule("r1", true)}))
	require.NoError(t, store.SetRuleEnabled(ctx, "r1", false))
	require.NoError(t, store.IncrementRuleMatch(ctx, "r1"))

	// Re-saving the shipped rule set (e.g. on restart) must not reset state.
	updated := sampleRule("r1", true)
	updated.Description = "updated description"
	require.NoError(t, store.SaveRules(ctx, []core.Rule{updated}))

	rule, err := store.GetRuleByID(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, rule.Enabled, "enabled flag survives re-save")
	assert.Equal(t, int64(1), rule.MatchCount, "match count survives re-save")
	assert.Equal(t, "updated description", rule.Description, "definition fields are updated")
}

func TestAlertLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule := sampleRule("r1", true)
	require.NoError(t, store.SaveRules(ctx, []core.Rule{rule}))

	event := sampleEvent()
	require.NoError(t, store.StoreEvent(ctx, event))

	alert := core.NewAlert(&rule, event, "Threshold exceeded: 5 events in 60s (group: 192.168.1.100)")
	require.NoError(t, store.StoreAlert(ctx, alert))

	got, err := store.GetAlertByID(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, got.Status)
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, "r1", got.RuleID)

	open, err := store.GetAlerts(ctx, AlertFilter{Status: "open"})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	updated, err := store.UpdateAlertStatus(ctx, alert.AlertID, core.AlertStatusAcknowledged, "looking into it")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, updated.Status)
	assert.Equal(t, "looking into it", updated.Notes)

	_, err = store.UpdateAlertStatus(ctx, alert.AlertID, core.AlertStatusOpen, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.UpdateAlertStatus(ctx, "ghost", core.AlertStatusClosed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := sampleEvent()
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	recent := sampleEvent()
	require.NoError(t, store.StoreEvent(ctx, old))
	require.NoError(t, store.StoreEvent(ctx, recent))

	require.NoError(t, store.Prune(ctx, RetentionPolicy{EventMaxAge: 24 * time.Hour}))

	events, err := store.GetEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, recent.EventID, events[0].EventID)
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.HealthCheck())
}
