package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"argus/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader parses rule documents. Documents are schema-validated first so a
// malformed rule set is rejected at load time with a pointed error instead
// of silently producing never-matching rules.
type Loader struct {
	schema *gojsonschema.Schema
	logger *zap.SugaredLogger
}

// NewLoader creates a rule loader from a JSON schema document
func NewLoader(schemaJSON string, logger *zap.SugaredLogger) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule schema: %w", err)
	}
	return &Loader{schema: schema, logger: logger}, nil
}

// LoadJSON parses and validates a JSON rule document
func (l *Loader) LoadJSON(data []byte) ([]core.Rule, error) {
	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate rule document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("rule document failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var doc core.Rules
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
		seen[rule.ID] = true
	}

	l.logger.Infof("Loaded %d rules", len(doc.Rules))
	return doc.Rules, nil
}

// LoadYAML parses and validates a YAML rule document by converting it to
// JSON and reusing the schema validation path.
func (l *Loader) LoadYAML(data []byte) ([]core.Rule, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules: %w", err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML rules to JSON: %w", err)
	}
	return l.LoadJSON(jsonData)
}

// LoadFile loads a rule file, choosing the decoder by extension
func (l *Loader) LoadFile(path string) ([]core.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	default:
		return l.LoadJSON(data)
	}
}
