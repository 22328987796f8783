package storage

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy controls how long events and alerts are kept. Zero ages
// disable pruning for that table.
type RetentionPolicy struct {
	EventMaxAge time.Duration
	AlertMaxAge time.Duration
	Interval    time.Duration
}

// StartRetention launches a background pruning loop that runs until ctx is
// cancelled.
func (s *SQLiteStore) StartRetention(ctx context.Context, policy RetentionPolicy) {
	interval := policy.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Prune(ctx, policy); err != nil {
					s.logger.Errorf("Retention pruning failed: %v", err)
				}
			}
		}
	}()
}

// Prune deletes events and alerts older than the policy allows
func (s *SQLiteStore) Prune(ctx context.Context, policy RetentionPolicy) error {
	now := time.Now().UTC()
	if policy.EventMaxAge > 0 {
		res, err := s.writeDB.ExecContext(ctx,
			`DELETE FROM events WHERE timestamp < ?`, now.Add(-policy.EventMaxAge))
		if err != nil {
			return fmt.Errorf("failed to prune events: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Infof("Pruned %d events older than %s", n, policy.EventMaxAge)
		}
	}
	if policy.AlertMaxAge > 0 {
		res, err := s.writeDB.ExecContext(ctx,
			`DELETE FROM alerts WHERE created_at < ?`, now.Add(-policy.AlertMaxAge))
		if err != nil {
			return fmt.Errorf("failed to prune alerts: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Infof("Pruned %d alerts older than %s", n, policy.AlertMaxAge)
		}
	}
	return nil
}
