package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the triage status of an alert.
type AlertStatus string

const (
	// AlertStatusOpen indicates an alert that hasn't been reviewed.
	AlertStatusOpen AlertStatus = "open"
	// AlertStatusAcknowledged indicates an alert that has been reviewed.
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusClosed indicates an alert whose triage is finished.
	AlertStatusClosed AlertStatus = "closed"
)

// String returns the string representation.
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusClosed:
		return true
	default:
		return false
	}
}

// Alert is the output of a rule match. It references the triggering event
// and rule; the severity is copied from the rule at creation time so later
// rule edits do not rewrite alert history. Only Status and Notes change
// after creation.
type Alert struct {
	AlertID     string      `json:"id"`
	EventID     string      `json:"event_id"`
	RuleID      string      `json:"rule_id"`
	Severity    string      `json:"severity"`
	Status      AlertStatus `json:"status"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	EndpointID  string      `json:"endpoint_id,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewAlert creates an open alert for a rule match. The detail string carries
// match-specific context (threshold counts, correlation summary) and is
// appended to the rule's description.
func NewAlert(rule *Rule, event *Event, detail string) *Alert {
	description := rule.Description
	if detail != "" {
		if description != "" {
			description += " - "
		}
		description += detail
	}

	return &Alert{
		AlertID:     uuid.New().String(),
		EventID:     event.EventID,
		RuleID:      rule.ID,
		Severity:    rule.Severity,
		Status:      AlertStatusOpen,
		Title:       rule.Name,
		Description: description,
		EndpointID:  event.Hostname,
		CreatedAt:   time.Now().UTC(),
	}
}

// validTransitions defines the allowed alert status transitions.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:         {AlertStatusAcknowledged, AlertStatusClosed},
	AlertStatusAcknowledged: {AlertStatusClosed},
	AlertStatusClosed:       {},
}

// TransitionTo validates and executes an alert status transition.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}

	allowed, exists := validTransitions[a.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", a.Status)
	}
	for _, status := range allowed {
		if status == newStatus {
			a.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s (allowed: %v)", a.Status, newStatus, allowed)
}

// CanTransitionTo checks if a transition is allowed without executing it.
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	for _, status := range validTransitions[a.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}
