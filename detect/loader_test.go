package detect

import (
	"os"
	"path/filepath"
	"testing"

	"argus/core"
	"argus/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLoader(t *testing.T) *Loader {
	t.Helper()
	loader, err := NewLoader(rules.SchemaJSON, zap.NewNop().Sugar())
	require.NoError(t, err)
	return loader
}

func TestLoaderDefaultRules(t *testing.T) {
	loader := testLoader(t)

	loaded, err := loader.LoadJSON(rules.DefaultRulesJSON)
	require.NoError(t, err)
	require.NotEmpty(t, loaded)

	byID := make(map[string]core.Rule, len(loaded))
	for _, rule := range loaded {
		byID[rule.ID] = rule
	}

	brute, ok := byID["ssh-brute-force"]
	require.True(t, ok)
	assert.Equal(t, core.RuleTypeThreshold, brute.RuleType)
	assert.Equal(t, 5, brute.Conditions.Threshold)
	assert.Equal(t, 60, brute.Conditions.WindowSeconds)
	assert.Equal(t, "parsed_data.source_ip", brute.Conditions.GroupBy)

	corr, ok := byID["ssh-brute-force-success"]
	require.True(t, ok)
	assert.Equal(t, core.RuleTypeCorrelation, corr.RuleType)
	require.Len(t, corr.Conditions.Sequence, 2)
	assert.Equal(t, 3, corr.Conditions.Sequence[0].Count)
}

func TestLoaderRejectsInvalidShape(t *testing.T) {
	loader := testLoader(t)

	tests := []struct {
		name string
		doc  string
	}{
		{"not an object", `[1,2,3]`},
		{"missing rules key", `{"detections": []}`},
		{"missing severity", `{"rules":[{"id":"r1","name":"R1","rule_type":"signature","conditions":{"field":"a","equals":1}}]}`},
		{"bad severity", `{"rules":[{"id":"r1","name":"R1","severity":"fatal","rule_type":"signature","conditions":{"field":"a","equals":1}}]}`},
		{"unknown condition key", `{"rules":[{"id":"r1","name":"R1","severity":"info","rule_type":"signature","conditions":{"field":"a","eq":1}}]}`},
		{"one-stage sequence", `{"rules":[{"id":"r1","name":"R1","severity":"info","rule_type":"correlation","conditions":{"sequence":[{"count":1,"window_seconds":1,"match":{"field":"a","equals":1}}]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadJSON([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoaderRejectsSemanticErrors(t *testing.T) {
	loader := testLoader(t)

	// Schema-valid but semantically broken: threshold rule without a window.
	doc := `{"rules":[{"id":"r1","name":"R1","severity":"info","rule_type":"threshold","conditions":{"field":"a","equals":1,"threshold":5}}]}`
	_, err := loader.LoadJSON([]byte(doc))
	assert.Error(t, err)

	dup := `{"rules":[
		{"id":"r1","name":"R1","severity":"info","rule_type":"signature","conditions":{"field":"a","equals":1}},
		{"id":"r1","name":"R1 again","severity":"info","rule_type":"signature","conditions":{"field":"b","equals":2}}
	]}`
	_, err = loader.LoadJSON([]byte(dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestLoaderYAML(t *testing.T) {
	loader := testLoader(t)

	doc := `
rules:
  - id: yaml-rule
    name: YAML Rule
    enabled: true
    severity: warning
    rule_type: threshold
    conditions:
      field: parsed_data.auth_result
      equals: failure
      threshold: 3
      window_seconds: 120
      group_by: parsed_data.source_ip
`
	loaded, err := loader.LoadYAML([]byte(doc))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "yaml-rule", loaded[0].ID)
	assert.Equal(t, 3, loaded[0].Conditions.Threshold)
}

func TestLoaderLoadFile(t *testing.T) {
	loader := testLoader(t)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(jsonPath, rules.DefaultRulesJSON, 0o644))

	loaded, err := loader.LoadFile(jsonPath)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded)

	_, err = loader.LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
