package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/rules"
	"argus/storage"
)

// LoadRules loads the embedded default rule set, merges in the optional
// external rule file, and persists the result. The store keeps runtime state
// (enabled flag, match counts) across restarts, so saving is an upsert of
// rule definitions only.
func LoadRules(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, sugar *zap.SugaredLogger) ([]core.Rule, error) {
	loader, err := detect.NewLoader(rules.SchemaJSON, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule loader: %w", err)
	}

	loaded, err := loader.LoadJSON(rules.DefaultRulesJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in rules: %w", err)
	}
	sugar.Infof("Loaded %d built-in rules", len(loaded))

	if cfg.Rules.File != "" {
		external, err := loader.LoadFile(cfg.Rules.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule file %s: %w", cfg.Rules.File, err)
		}
		sugar.Infof("Loaded %d rules from %s", len(external), cfg.Rules.File)
		loaded = mergeRules(loaded, external)
	}

	if err := store.SaveRules(ctx, loaded); err != nil {
		return nil, fmt.Errorf("failed to persist rules: %w", err)
	}
	return loaded, nil
}

// mergeRules overlays external rules on the defaults. An external rule with
// the same ID replaces the built-in definition.
func mergeRules(defaults, external []core.Rule) []core.Rule {
	byID := make(map[string]int, len(defaults))
	merged := make([]core.Rule, len(defaults))
	copy(merged, defaults)
	for i, r := range merged {
		byID[r.ID] = i
	}
	for _, r := range external {
		if i, ok := byID[r.ID]; ok {
			merged[i] = r
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

// InitDetector builds the rule engine and the detection pipeline around the
// event channel. The store serves as rule source, event sink and alert sink;
// hub may be nil when live broadcasting is disabled.
func InitDetector(cfg *config.Config, store *storage.SQLiteStore, events <-chan *core.Event, hub detect.Broadcaster, sugar *zap.SugaredLogger) (*detect.Detector, *detect.RuleEngine) {
	engine := detect.NewRuleEngine(store, sugar)
	engine.SetSweepInterval(cfg.Engine.SweepInterval, cfg.Engine.StateMaxAge)
	detector := detect.NewDetector(engine, events, store, store, hub, sugar)
	return detector, engine
}
