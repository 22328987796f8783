package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Rule types supported by the detection engine.
const (
	RuleTypeSignature   = "signature"
	RuleTypeThreshold   = "threshold"
	RuleTypeCorrelation = "correlation"
)

// Rule represents a detection rule. Rules are loaded from the embedded
// default set or an external JSON/YAML file and persisted to storage; at
// runtime only Enabled, MatchCount and LastMatch change.
type Rule struct {
	ID          string     `json:"id" yaml:"id" validate:"required"`
	Name        string     `json:"name" yaml:"name" validate:"required"`
	Description string     `json:"description" yaml:"description"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	Severity    string     `json:"severity" yaml:"severity" validate:"required,oneof=info warning critical"`
	RuleType    string     `json:"rule_type" yaml:"rule_type" validate:"required,oneof=signature threshold correlation"`
	Conditions  *Condition `json:"conditions" yaml:"conditions" validate:"required"`
	Actions     Actions    `json:"actions" yaml:"actions"`
	MatchCount  int64      `json:"match_count" yaml:"match_count"`
	LastMatch   *time.Time `json:"last_match,omitempty" yaml:"last_match,omitempty"`
}

// Actions holds the per-rule response configuration. Alerting is the only
// supported action.
type Actions struct {
	Alert bool `json:"alert" yaml:"alert"`
}

// Rules is the collection shape used by rule files.
type Rules struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Condition is one node of a rule's predicate tree. The JSON field names are
// the external rule-file contract and must not change: existing rule sets are
// data. A node may carry several checks at once; they are implicitly AND-ed.
// Threshold and correlation parameters ride on the root condition node of
// rules of those types.
type Condition struct {
	Field       string       `json:"field,omitempty" yaml:"field,omitempty"`
	Equals      any          `json:"equals,omitempty" yaml:"equals,omitempty"`
	Contains    string       `json:"contains,omitempty" yaml:"contains,omitempty"`
	ContainsAny []string     `json:"contains_any,omitempty" yaml:"contains_any,omitempty"`
	Matches     string       `json:"matches,omitempty" yaml:"matches,omitempty"`
	Not         *Condition   `json:"not,omitempty" yaml:"not,omitempty"`
	Additional  *Condition   `json:"additional,omitempty" yaml:"additional,omitempty"`
	Any         []*Condition `json:"any,omitempty" yaml:"any,omitempty"`
	All         []*Condition `json:"all,omitempty" yaml:"all,omitempty"`

	// Threshold rule parameters.
	Threshold     int    `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	WindowSeconds int    `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`
	GroupBy       string `json:"group_by,omitempty" yaml:"group_by,omitempty"`

	// Correlation rule parameters.
	Sequence []SequenceStage `json:"sequence,omitempty" yaml:"sequence,omitempty"`

	// hasEquals distinguishes `"equals": null` and `"equals": false` from an
	// absent equals check. Set by UnmarshalJSON.
	hasEquals bool
}

// SequenceStage is one stage of a correlation rule's two-stage sequence.
// Stage 0 carries Count and WindowSeconds; stage 1 is the terminal predicate.
type SequenceStage struct {
	Count         int        `json:"count,omitempty" yaml:"count,omitempty"`
	WindowSeconds int        `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`
	Match         *Condition `json:"match" yaml:"match"`
}

// conditionAlias avoids UnmarshalJSON recursion.
type conditionAlias Condition

// UnmarshalJSON decodes a condition node and records whether an `equals` key
// was present, so explicit null/false comparisons keep their meaning.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var alias conditionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, alias.hasEquals = keys["equals"]

	*c = Condition(alias)
	return nil
}

// MarshalJSON is the counterpart of UnmarshalJSON: an explicit
// `"equals": null` check survives marshaling even though the Equals field is
// omitempty for the common absent case. Conditions round-trip through JSON on
// their way into and out of storage, so losing the key here would erase the
// check from every store-loaded rule.
func (c Condition) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(conditionAlias(c))
	if err != nil {
		return nil, err
	}
	if !c.hasEquals || c.Equals != nil {
		return data, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	keys["equals"] = json.RawMessage("null")
	return json.Marshal(keys)
}

// HasEquals reports whether this node carries an equals check, including an
// explicit comparison against null or false.
func (c *Condition) HasEquals() bool {
	return c.hasEquals || c.Equals != nil
}

// Validate checks that a condition tree is structurally sound for the given
// rule type. Invalid rule definitions fail at load time rather than silently
// evaluating as never-matching.
func (c *Condition) Validate(ruleType string) error {
	if c == nil {
		return fmt.Errorf("conditions are required")
	}

	switch ruleType {
	case RuleTypeThreshold:
		if c.Threshold < 1 {
			return fmt.Errorf("threshold rules require threshold >= 1, got %d", c.Threshold)
		}
		if c.WindowSeconds < 1 {
			return fmt.Errorf("threshold rules require window_seconds >= 1, got %d", c.WindowSeconds)
		}
	case RuleTypeCorrelation:
		if len(c.Sequence) != 2 {
			return fmt.Errorf("correlation rules require a two-stage sequence, got %d stages", len(c.Sequence))
		}
		if c.Sequence[0].Count < 1 {
			return fmt.Errorf("correlation stage 0 requires count >= 1, got %d", c.Sequence[0].Count)
		}
		if c.Sequence[0].WindowSeconds < 1 {
			return fmt.Errorf("correlation stage 0 requires window_seconds >= 1, got %d", c.Sequence[0].WindowSeconds)
		}
		for i, stage := range c.Sequence {
			if stage.Match == nil {
				return fmt.Errorf("correlation stage %d is missing a match condition", i)
			}
			if err := stage.Match.validateNode(); err != nil {
				return fmt.Errorf("correlation stage %d: %w", i, err)
			}
		}
		return nil
	case RuleTypeSignature:
		if c.Threshold != 0 || c.WindowSeconds != 0 || len(c.Sequence) != 0 {
			return fmt.Errorf("signature rules must not carry threshold or sequence parameters")
		}
	default:
		return fmt.Errorf("unknown rule type: %s", ruleType)
	}

	return c.validateNode()
}

// validateNode checks a single predicate node and its children.
func (c *Condition) validateNode() error {
	if c == nil {
		return fmt.Errorf("condition node is nil")
	}

	hasFieldCheck := c.HasEquals() || c.Contains != "" || len(c.ContainsAny) > 0 || c.Matches != ""
	if hasFieldCheck && c.Field == "" {
		return fmt.Errorf("field-level check requires a field path")
	}
	if c.Field != "" && !hasFieldCheck {
		return fmt.Errorf("field %q has no check (equals, contains, contains_any or matches)", c.Field)
	}

	for i, sub := range c.Any {
		if sub == nil {
			return fmt.Errorf("any[%d] is null", i)
		}
		if err := sub.validateNode(); err != nil {
			return fmt.Errorf("any[%d]: %w", i, err)
		}
	}
	for i, sub := range c.All {
		if sub == nil {
			return fmt.Errorf("all[%d] is null", i)
		}
		if err := sub.validateNode(); err != nil {
			return fmt.Errorf("all[%d]: %w", i, err)
		}
	}
	if c.Not != nil {
		if err := c.Not.validateNode(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}
	if c.Additional != nil {
		if err := c.Additional.validateNode(); err != nil {
			return fmt.Errorf("additional: %w", err)
		}
	}
	return nil
}

var ruleValidator = validator.New()

// Validate checks the rule's scalar fields and its condition tree.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("cannot validate nil rule")
	}
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if err := r.Conditions.Validate(strings.ToLower(r.RuleType)); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}
