package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"argus/core"
)

// AlertFilter narrows GetAlerts results.
type AlertFilter struct {
	Status   string
	Severity string
	RuleID   string
	Limit    int
	Offset   int
}

const defaultAlertLimit = 100

// StoreAlert persists one alert
func (s *SQLiteStore) StoreAlert(ctx context.Context, alert *core.Alert) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO alerts (id, event_id, rule_id, severity, status, title, description, endpoint_id, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.AlertID, alert.EventID, alert.RuleID, alert.Severity, string(alert.Status),
		alert.Title, alert.Description, alert.EndpointID, alert.Notes, alert.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// GetAlertByID fetches one alert, returning ErrNotFound if absent
func (s *SQLiteStore) GetAlertByID(ctx context.Context, id string) (*core.Alert, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, event_id, rule_id, severity, status, title, description, endpoint_id, notes, created_at
		 FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return alert, err
}

// GetAlerts returns alerts matching the filter, newest first
func (s *SQLiteStore) GetAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.RuleID != "" {
		clauses = append(clauses, "rule_id = ?")
		args = append(args, filter.RuleID)
	}

	query := `SELECT id, event_id, rule_id, severity, status, title, description, endpoint_id, notes, created_at FROM alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*core.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus transitions an alert's triage status, enforcing the
// open -> acknowledged -> closed lifecycle. Notes are appended when provided.
func (s *SQLiteStore) UpdateAlertStatus(ctx context.Context, id string, status core.AlertStatus, notes string) (*core.Alert, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown alert status %q", status)
	}

	var updated *core.Alert
	err := s.WithTransaction(func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, event_id, rule_id, severity, status, title, description, endpoint_id, notes, created_at
			 FROM alerts WHERE id = ?`, id)
		alert, err := scanAlert(row)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := alert.TransitionTo(status); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		if notes != "" {
			alert.Notes = notes
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE alerts SET status = ?, notes = ? WHERE id = ?`,
			string(alert.Status), alert.Notes, id); err != nil {
			return fmt.Errorf("failed to update alert %s: %w", id, err)
		}
		updated = alert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var alert core.Alert
	var status string
	var description, endpointID, notes sql.NullString
	err := row.Scan(&alert.AlertID, &alert.EventID, &alert.RuleID, &alert.Severity, &status,
		&alert.Title, &description, &endpointID, &notes, &alert.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	alert.Status = core.AlertStatus(status)
	alert.Description = description.String
	alert.EndpointID = endpointID.String
	alert.Notes = notes.String
	return &alert, nil
}
