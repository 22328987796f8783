package detect

import (
	"fmt"
	"reflect"
	"strings"

	"argus/core"

	"go.uber.org/zap"
)

// Matcher evaluates rule condition trees against normalized events.
//
// A condition node may carry any combination of checks; all checks present
// on one node must pass for the node to match. Composition beyond that flat
// AND goes through the explicit any/all/not/additional children.
type Matcher struct {
	logger *zap.SugaredLogger
}

// NewMatcher creates a condition matcher
func NewMatcher(logger *zap.SugaredLogger) *Matcher {
	return &Matcher{logger: logger}
}

// Matches reports whether the event satisfies the condition. Missing event
// fields and broken regex patterns are non-matches, never errors.
func (m *Matcher) Matches(event *core.Event, cond *core.Condition) bool {
	if event == nil || cond == nil {
		return false
	}

	if len(cond.Any) > 0 {
		matched := false
		for _, sub := range cond.Any {
			if m.Matches(event, sub) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, sub := range cond.All {
		if !m.Matches(event, sub) {
			return false
		}
	}

	if cond.Field != "" && !m.fieldChecks(event, cond) {
		return false
	}

	if cond.Not != nil && m.Matches(event, cond.Not) {
		return false
	}

	if cond.Additional != nil && !m.Matches(event, cond.Additional) {
		return false
	}

	return true
}

func (m *Matcher) fieldChecks(event *core.Event, cond *core.Condition) bool {
	value, present := event.Field(cond.Field)

	if cond.HasEquals() {
		if !present || !valuesEqual(value, cond.Equals) {
			return false
		}
	}

	if cond.Contains != "" {
		if !present || !containsFold(stringify(value), cond.Contains) {
			return false
		}
	}

	if len(cond.ContainsAny) > 0 {
		if !present {
			return false
		}
		haystack := stringify(value)
		matched := false
		for _, needle := range cond.ContainsAny {
			if containsFold(haystack, needle) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if cond.Matches != "" {
		if !present {
			return false
		}
		matched, err := matchPattern(cond.Matches, stringify(value))
		if err != nil {
			m.logger.Warnw("Regex condition failed, treating as non-match",
				"field", cond.Field, "pattern", cond.Matches, "error", err)
			return false
		}
		if !matched {
			return false
		}
	}

	return true
}

// valuesEqual is strict equality with numeric normalization: JSON decoding
// yields float64 while parsers may store int, so 22 must equal 22.0.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
