package detect

import (
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testMatcher() *Matcher {
	return NewMatcher(zap.NewNop().Sugar())
}

func matcherEvent() *core.Event {
	event := core.NewEvent(core.SourceAuth)
	event.EventType = "authentication"
	event.Severity = core.SeverityWarning
	event.Hostname = "web-server-01"
	event.User = "root"
	event.ParsedData = map[string]any{
		"auth_type":   "ssh",
		"auth_result": "failure",
		"source_ip":   "192.168.1.100",
		"source_port": 22,
		"nested": map[string]any{
			"deep": "value",
		},
	}
	return event
}

func TestMatcherEquals(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	tests := []struct {
		name     string
		cond     *core.Condition
		expected bool
	}{
		{"string equal", &core.Condition{Field: "event_type", Equals: "authentication"}, true},
		{"string not equal", &core.Condition{Field: "event_type", Equals: "process"}, false},
		{"case sensitive", &core.Condition{Field: "event_type", Equals: "Authentication"}, false},
		{"int equals int", &core.Condition{Field: "parsed_data.source_port", Equals: 22}, true},
		{"float equals int", &core.Condition{Field: "parsed_data.source_port", Equals: float64(22)}, true},
		{"numeric mismatch", &core.Condition{Field: "parsed_data.source_port", Equals: 23}, false},
		{"number vs string", &core.Condition{Field: "parsed_data.source_port", Equals: "22"}, false},
		{"missing field", &core.Condition{Field: "parsed_data.no_such_key", Equals: "x"}, false},
		{"dotted path", &core.Condition{Field: "parsed_data.nested.deep", Equals: "value"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Matches(event, tt.cond))
		})
	}
}

func TestMatcherContains(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.True(t, m.Matches(event, &core.Condition{Field: "parsed_data.source_ip", Contains: "192.168"}))
	assert.True(t, m.Matches(event, &core.Condition{Field: "event_type", Contains: "AUTH"}), "contains is case-insensitive")
	assert.False(t, m.Matches(event, &core.Condition{Field: "event_type", Contains: "windows"}))
	assert.False(t, m.Matches(event, &core.Condition{Field: "parsed_data.missing", Contains: "x"}))
}

func TestMatcherContainsAny(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.True(t, m.Matches(event, &core.Condition{
		Field:       "parsed_data.auth_result",
		ContainsAny: []string{"success", "FAILURE"},
	}))
	assert.False(t, m.Matches(event, &core.Condition{
		Field:       "parsed_data.auth_result",
		ContainsAny: []string{"success", "lockout"},
	}))
}

func TestMatcherRegex(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.True(t, m.Matches(event, &core.Condition{Field: "parsed_data.source_ip", Matches: `^192\.168\.`}))
	assert.True(t, m.Matches(event, &core.Condition{Field: "event_type", Matches: `AUTH.*ION$`}), "regex is case-insensitive")
	assert.False(t, m.Matches(event, &core.Condition{Field: "parsed_data.source_ip", Matches: `^10\.`}))
}

func TestMatcherInvalidRegexFailsClosed(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.False(t, m.Matches(event, &core.Condition{Field: "event_type", Matches: `([unclosed`}))
}

func TestMatcherComposition(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	all := &core.Condition{All: []*core.Condition{
		{Field: "event_type", Equals: "authentication"},
		{Field: "parsed_data.source_ip", Contains: "192.168"},
	}}
	assert.True(t, m.Matches(event, all))

	allFail := &core.Condition{All: []*core.Condition{
		{Field: "event_type", Equals: "authentication"},
		{Field: "parsed_data.source_ip", Contains: "10.0"},
	}}
	assert.False(t, m.Matches(event, allFail))

	anyCond := &core.Condition{Any: []*core.Condition{
		{Field: "event_type", Equals: "process"},
		{Field: "parsed_data.auth_result", Equals: "failure"},
	}}
	assert.True(t, m.Matches(event, anyCond))

	anyFail := &core.Condition{Any: []*core.Condition{
		{Field: "event_type", Equals: "process"},
		{Field: "parsed_data.auth_result", Equals: "success"},
	}}
	assert.False(t, m.Matches(event, anyFail))
}

func TestMatcherNot(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.False(t, m.Matches(event, &core.Condition{
		Not: &core.Condition{Field: "event_type", Equals: "authentication"},
	}))
	assert.True(t, m.Matches(event, &core.Condition{
		Not: &core.Condition{Field: "event_type", Equals: "process"},
	}))
	assert.True(t, m.Matches(event, &core.Condition{
		Not: &core.Condition{Field: "parsed_data.undefined_field", Equals: 1},
	}), "negating a check on an undefined field matches")
}

func TestMatcherAdditional(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.True(t, m.Matches(event, &core.Condition{
		Field:  "parsed_data.auth_result",
		Equals: "failure",
		Additional: &core.Condition{
			Field:  "parsed_data.auth_type",
			Equals: "ssh",
		},
	}))
	assert.False(t, m.Matches(event, &core.Condition{
		Field:  "parsed_data.auth_result",
		Equals: "failure",
		Additional: &core.Condition{
			Field:  "parsed_data.auth_type",
			Equals: "pam",
		},
	}))
}

func TestMatcherImplicitAndOnOneNode(t *testing.T) {
	m := testMatcher()
	event := matcherEvent()

	assert.True(t, m.Matches(event, &core.Condition{
		Field:    "parsed_data.source_ip",
		Contains: "192.168",
		Matches:  `\.100$`,
	}))
	assert.False(t, m.Matches(event, &core.Condition{
		Field:    "parsed_data.source_ip",
		Contains: "192.168",
		Matches:  `\.200$`,
	}))
}

func TestMatcherNilInputs(t *testing.T) {
	m := testMatcher()
	assert.False(t, m.Matches(nil, &core.Condition{Field: "a", Equals: 1}))
	assert.False(t, m.Matches(matcherEvent(), nil))
}
