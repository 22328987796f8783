package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlert_CopiesRuleFields(t *testing.T) {
	rule := &Rule{
		ID: "thr-ssh", Name: "SSH Brute Force", Description: "Repeated SSH failures",
		Severity: SeverityCritical, RuleType: RuleTypeThreshold,
	}
	event := NewEvent(SourceAuth)
	event.Hostname = "web-server-01"

	alert := NewAlert(rule, event, "Threshold exceeded: 5 events in 60s (group: 192.168.1.100)")

	require.NotEmpty(t, alert.AlertID)
	assert.Equal(t, event.EventID, alert.EventID)
	assert.Equal(t, "thr-ssh", alert.RuleID)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, AlertStatusOpen, alert.Status)
	assert.Equal(t, "SSH Brute Force", alert.Title)
	assert.Equal(t, "Repeated SSH failures - Threshold exceeded: 5 events in 60s (group: 192.168.1.100)", alert.Description)
	assert.Equal(t, "web-server-01", alert.EndpointID)
}

func TestAlertTransitions(t *testing.T) {
	alert := &Alert{Status: AlertStatusOpen}

	assert.True(t, alert.CanTransitionTo(AlertStatusAcknowledged))
	require.NoError(t, alert.TransitionTo(AlertStatusAcknowledged))
	assert.Equal(t, AlertStatusAcknowledged, alert.Status)

	assert.Error(t, alert.TransitionTo(AlertStatusOpen), "reopening is not allowed")

	require.NoError(t, alert.TransitionTo(AlertStatusClosed))
	assert.Error(t, alert.TransitionTo(AlertStatusAcknowledged), "closed is final")
}

func TestAlertStatusIsValid(t *testing.T) {
	assert.True(t, AlertStatusOpen.IsValid())
	assert.True(t, AlertStatusAcknowledged.IsValid())
	assert.True(t, AlertStatusClosed.IsValid())
	assert.False(t, AlertStatus("escalated").IsValid())
}
