package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event sources recognized by the parsers.
const (
	SourceSyslog  = "syslog"
	SourceAuth    = "auth"
	SourceWindows = "windows"
)

// Normalized severities. Syslog severity codes and Windows event IDs are
// mapped onto these three levels at parse time.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event represents the common event schema for all ingested security events.
// Timestamp, Source, EventType, Severity and Description are always set;
// everything else is best-effort context extracted by the parser.
type Event struct {
	EventID     string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Source      string         `json:"source"`
	EventType   string         `json:"event_type"`
	Severity    string         `json:"severity"`
	Hostname    string         `json:"hostname,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	User        string         `json:"user,omitempty"`
	Description string         `json:"description"`
	RawLog      string         `json:"raw_log"`
	ParsedData  map[string]any `json:"parsed_data"`
}

// NewEvent creates a new Event with a generated UUID and UTC timestamp.
func NewEvent(source string) *Event {
	return &Event{
		EventID:    uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Source:     source,
		ParsedData: make(map[string]any),
	}
}

// Field returns the value at a dotted path, looking first at the event's
// top-level fields and then descending into ParsedData. The second return
// value is false when any path segment is missing, so rule conditions can
// treat absent fields as undefined without panicking.
func (e *Event) Field(path string) (any, bool) {
	if e == nil || path == "" {
		return nil, false
	}

	top := map[string]any{
		"id":          e.EventID,
		"timestamp":   e.Timestamp,
		"source":      e.Source,
		"event_type":  e.EventType,
		"severity":    e.Severity,
		"hostname":    e.Hostname,
		"ip_address":  e.IPAddress,
		"user":        e.User,
		"description": e.Description,
		"raw_log":     e.RawLog,
		"parsed_data": e.ParsedData,
	}

	var current any = top
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
