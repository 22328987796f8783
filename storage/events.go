package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"argus/core"
)

// EventFilter narrows GetEvents results. Zero values mean "no constraint".
type EventFilter struct {
	Source    string
	EventType string
	Severity  string
	Hostname  string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

const defaultEventLimit = 100

// StoreEvent persists one normalized event
func (s *SQLiteStore) StoreEvent(ctx context.Context, event *core.Event) error {
	parsed, err := json.Marshal(event.ParsedData)
	if err != nil {
		return fmt.Errorf("failed to encode parsed data for event %s: %w", event.EventID, err)
	}
	_, err = s.writeDB.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, source, event_type, severity, hostname, ip_address, username, description, raw_log, parsed_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.Timestamp.UTC(), event.Source, event.EventType, event.Severity,
		event.Hostname, event.IPAddress, event.User, event.Description, event.RawLog, string(parsed))
	if err != nil {
		return fmt.Errorf("failed to store event %s: %w", event.EventID, err)
	}
	return nil
}

// StoreEventBatch persists a batch of events in one transaction
func (s *SQLiteStore) StoreEventBatch(ctx context.Context, events []*core.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO events (id, timestamp, source, event_type, severity, hostname, ip_address, username, description, raw_log, parsed_data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare batch insert: %w", err)
		}
		defer stmt.Close()

		for _, event := range events {
			parsed, err := json.Marshal(event.ParsedData)
			if err != nil {
				return fmt.Errorf("failed to encode parsed data for event %s: %w", event.EventID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				event.EventID, event.Timestamp.UTC(), event.Source, event.EventType, event.Severity,
				event.Hostname, event.IPAddress, event.User, event.Description, event.RawLog, string(parsed)); err != nil {
				return fmt.Errorf("failed to store event %s: %w", event.EventID, err)
			}
		}
		return nil
	})
}

// GetEventByID fetches one event, returning ErrNotFound if absent
func (s *SQLiteStore) GetEventByID(ctx context.Context, id string) (*core.Event, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, timestamp, source, event_type, severity, hostname, ip_address, username, description, raw_log, parsed_data
		 FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return event, err
}

// GetEvents returns events matching the filter, newest first
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]*core.Event, error) {
	var clauses []string
	var args []any
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Hostname != "" {
		clauses = append(clauses, "hostname = ?")
		args = append(args, filter.Hostname)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC())
	}

	query := `SELECT id, timestamp, source, event_type, severity, hostname, ip_address, username, description, raw_log, parsed_data FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*core.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*core.Event, error) {
	var event core.Event
	var hostname, ipAddress, username, parsed sql.NullString
	err := row.Scan(&event.EventID, &event.Timestamp, &event.Source, &event.EventType, &event.Severity,
		&hostname, &ipAddress, &username, &event.Description, &event.RawLog, &parsed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	event.Hostname = hostname.String
	event.IPAddress = ipAddress.String
	event.User = username.String
	event.ParsedData = make(map[string]any)
	if parsed.Valid && parsed.String != "" {
		if err := json.Unmarshal([]byte(parsed.String), &event.ParsedData); err != nil {
			return nil, fmt.Errorf("failed to decode parsed data for event %s: %w", event.EventID, err)
		}
	}
	return &event, nil
}
