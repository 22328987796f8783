package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
)

// SaveRules upserts the given rules in one transaction. Loading the default
// rule set on startup must not clobber runtime state, so enabled flags,
// match counts and last-match timestamps of existing rows are preserved.
func (s *SQLiteStore) SaveRules(ctx context.Context, rules []core.Rule) error {
	return s.WithTransaction(func(tx *sql.Tx) error {
		for i := range rules {
			rule := &rules[i]
			conditions, err := json.Marshal(rule.Conditions)
			if err != nil {
				return fmt.Errorf("failed to encode conditions for rule %s: %w", rule.ID, err)
			}
			actions, err := json.Marshal(rule.Actions)
			if err != nil {
				return fmt.Errorf("failed to encode actions for rule %s: %w", rule.ID, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO rules (id, name, description, enabled, severity, rule_type, conditions, actions, match_count, last_match)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
				 ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					description = excluded.description,
					severity = excluded.severity,
					rule_type = excluded.rule_type,
					conditions = excluded.conditions,
					actions = excluded.actions`,
				rule.ID, rule.Name, rule.Description, boolToInt(rule.Enabled),
				rule.Severity, rule.RuleType, string(conditions), string(actions))
			if err != nil {
				return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
			}
		}
		return nil
	})
}

// GetRules returns all rules
func (s *SQLiteStore) GetRules(ctx context.Context) ([]core.Rule, error) {
	return s.queryRules(ctx, `SELECT id, name, description, enabled, severity, rule_type, conditions, actions, match_count, last_match FROM rules ORDER BY id`)
}

// GetEnabledRules returns the rules the engine should evaluate
func (s *SQLiteStore) GetEnabledRules(ctx context.Context) ([]core.Rule, error) {
	return s.queryRules(ctx, `SELECT id, name, description, enabled, severity, rule_type, conditions, actions, match_count, last_match FROM rules WHERE enabled = 1 ORDER BY id`)
}

// GetRuleByID fetches one rule, returning ErrNotFound if absent
func (s *SQLiteStore) GetRuleByID(ctx context.Context, id string) (*core.Rule, error) {
	rules, err := s.queryRules(ctx,
		`SELECT id, name, description, enabled, severity, rule_type, conditions, actions, match_count, last_match FROM rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrNotFound
	}
	return &rules[0], nil
}

// SetRuleEnabled toggles a rule, returning ErrNotFound for unknown IDs
func (s *SQLiteStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.writeDB.ExecContext(ctx, `UPDATE rules SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to toggle rule %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check toggle result for rule %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRuleMatch bumps a rule's match counter and stamps last_match
func (s *SQLiteStore) IncrementRuleMatch(ctx context.Context, ruleID string) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE rules SET match_count = match_count + 1, last_match = ? WHERE id = ?`,
		time.Now().UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment match count for rule %s: %w", ruleID, err)
	}
	return nil
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...any) ([]core.Rule, error) {
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []core.Rule
	for rows.Next() {
		var rule core.Rule
		var description, conditions, actions sql.NullString
		var enabled int
		var lastMatch sql.NullTime
		if err := rows.Scan(&rule.ID, &rule.Name, &description, &enabled, &rule.Severity,
			&rule.RuleType, &conditions, &actions, &rule.MatchCount, &lastMatch); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Description = description.String
		rule.Enabled = enabled != 0
		if lastMatch.Valid {
			t := lastMatch.Time
			rule.LastMatch = &t
		}
		if conditions.Valid && conditions.String != "" {
			if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
				return nil, fmt.Errorf("failed to decode conditions for rule %s: %w", rule.ID, err)
			}
		}
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &rule.Actions); err != nil {
				return nil, fmt.Errorf("failed to decode actions for rule %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
