// Package rules carries the embedded default detection rule set and the JSON
// schema that external rule files are validated against.
package rules

import _ "embed"

//go:embed rules_schema.json
var SchemaJSON string

//go:embed default_rules.json
var DefaultRulesJSON []byte
