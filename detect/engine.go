package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

const (
	// DefaultSweepInterval is how often stale window state is collected
	DefaultSweepInterval = time.Minute
	// DefaultStateMaxAge is the staleness threshold for window state. It is
	// independent of any single rule's window so memory stays bounded even
	// for rules with long windows.
	DefaultStateMaxAge = 10 * time.Minute

	// globalGroup keys window state for rules without a group_by field
	globalGroup = "global"
)

// RuleStore is the engine's view of rule persistence.
type RuleStore interface {
	GetEnabledRules(ctx context.Context) ([]core.Rule, error)
}

// RuleEngine evaluates every enabled rule against each incoming event and
// produces alerts. Signature rules are stateless; threshold and correlation
// rules keep per-group window state in the engine's state store.
type RuleEngine struct {
	rules         RuleStore
	matcher       *Matcher
	state         *WindowStateStore
	logger        *zap.SugaredLogger
	sweepInterval time.Duration
	stateMaxAge   time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	cacheMu    sync.RWMutex
	cached     []core.Rule
	cacheValid bool
}

// NewRuleEngine creates a rule engine with default sweep settings
func NewRuleEngine(rules RuleStore, logger *zap.SugaredLogger) *RuleEngine {
	return &RuleEngine{
		rules:         rules,
		matcher:       NewMatcher(logger),
		state:         NewWindowStateStore(),
		logger:        logger,
		sweepInterval: DefaultSweepInterval,
		stateMaxAge:   DefaultStateMaxAge,
		stopCh:        make(chan struct{}),
	}
}

// SetSweepInterval overrides the state sweep cadence. Must be called before
// Start.
func (e *RuleEngine) SetSweepInterval(interval, maxAge time.Duration) {
	if interval > 0 {
		e.sweepInterval = interval
	}
	if maxAge > 0 {
		e.stateMaxAge = maxAge
	}
}

// Start launches the background state sweep
func (e *RuleEngine) Start() {
	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop terminates the background sweep and waits for it to exit
func (e *RuleEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *RuleEngine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if removed := e.state.Sweep(e.stateMaxAge, time.Now().UTC()); removed > 0 {
				e.logger.Debugf("Swept %d stale detection state entries", removed)
			}
		}
	}
}

// ProcessEvent evaluates all enabled rules against one event and returns the
// alerts generated. A failure in one rule never blocks the others: handler
// panics are caught and logged per rule.
func (e *RuleEngine) ProcessEvent(event *core.Event) []*core.Alert {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	rules, err := e.enabledRules()
	if err != nil {
		e.logger.Errorf("Failed to load enabled rules: %v", err)
		return nil
	}

	var alerts []*core.Alert
	for i := range rules {
		rule := &rules[i]
		for _, alert := range e.processRule(event, rule) {
			metrics.AlertsGenerated.WithLabelValues(alert.Severity, rule.RuleType).Inc()
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// InvalidateRuleCache forces the next ProcessEvent to reload enabled rules
// from the store. Called when a rule is toggled.
func (e *RuleEngine) InvalidateRuleCache() {
	e.cacheMu.Lock()
	e.cacheValid = false
	e.cached = nil
	e.cacheMu.Unlock()
}

func (e *RuleEngine) enabledRules() ([]core.Rule, error) {
	e.cacheMu.RLock()
	if e.cacheValid {
		rules := e.cached
		e.cacheMu.RUnlock()
		return rules, nil
	}
	e.cacheMu.RUnlock()

	rules, err := e.rules.GetEnabledRules(context.Background())
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cached = rules
	e.cacheValid = true
	e.cacheMu.Unlock()
	return rules, nil
}

func (e *RuleEngine) processRule(event *core.Event, rule *core.Rule) (alerts []*core.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Rule handler panicked", "rule_id", rule.ID, "panic", r)
			metrics.RuleEvaluationErrors.WithLabelValues(rule.ID).Inc()
			alerts = nil
		}
	}()

	switch rule.RuleType {
	case core.RuleTypeSignature:
		return e.processSignatureRule(event, rule)
	case core.RuleTypeThreshold:
		return e.processThresholdRule(event, rule)
	case core.RuleTypeCorrelation:
		return e.processCorrelationRule(event, rule)
	default:
		e.logger.Warnf("Rule %s has unknown rule_type %q, skipping", rule.ID, rule.RuleType)
		metrics.RuleEvaluationErrors.WithLabelValues(rule.ID).Inc()
		return nil
	}
}

func (e *RuleEngine) processSignatureRule(event *core.Event, rule *core.Rule) []*core.Alert {
	if !e.matcher.Matches(event, rule.Conditions) {
		return nil
	}
	return []*core.Alert{core.NewAlert(rule, event, event.Description)}
}

func (e *RuleEngine) processThresholdRule(event *core.Event, rule *core.Rule) []*core.Alert {
	cond := rule.Conditions
	if cond == nil || !e.matcher.Matches(event, cond) {
		return nil
	}

	group := e.groupValue(event, cond.GroupBy)
	window := time.Duration(cond.WindowSeconds) * time.Second
	now := time.Now().UTC()

	var fired []*core.Alert
	e.state.Update(rule.ID, group, func(st *WindowState) bool {
		// A window older than window_seconds is stale in its entirety:
		// start fresh from this event.
		if !st.WindowStart.IsZero() && now.Sub(st.WindowStart) > window {
			st.Events = nil
		}
		if len(st.Events) == 0 {
			st.WindowStart = now
		}

		st.Events = append(st.Events, EventRef{ID: event.EventID, Timestamp: now})

		cutoff := now.Add(-window)
		kept := st.Events[:0]
		for _, ref := range st.Events {
			if !ref.Timestamp.Before(cutoff) {
				kept = append(kept, ref)
			}
		}
		st.Events = kept
		st.Count = len(kept)

		if st.Count >= cond.Threshold {
			detail := fmt.Sprintf("Threshold exceeded: %d events in %ds (group: %s)",
				st.Count, cond.WindowSeconds, group)
			fired = append(fired, core.NewAlert(rule, event, detail))
			// Reset on fire: the group must accumulate a fresh full count
			// before it can alert again.
			return false
		}
		return true
	})
	return fired
}

func (e *RuleEngine) processCorrelationRule(event *core.Event, rule *core.Rule) []*core.Alert {
	cond := rule.Conditions
	if cond == nil || len(cond.Sequence) != 2 {
		return nil
	}
	stage0 := cond.Sequence[0]
	stage1 := cond.Sequence[1]

	group := e.groupValue(event, cond.GroupBy)
	now := time.Now().UTC()

	var fired []*core.Alert
	if stage1.Match != nil && e.matcher.Matches(event, stage1.Match) {
		window := time.Duration(stage0.WindowSeconds) * time.Second
		e.state.Update(rule.ID, group, func(st *WindowState) bool {
			cutoff := now.Add(-window)
			recent := 0
			for _, ref := range st.Events {
				if !ref.Timestamp.Before(cutoff) {
					recent++
				}
			}
			if recent >= stage0.Count {
				detail := fmt.Sprintf("Correlation match: Success after %d failures", recent)
				fired = append(fired, core.NewAlert(rule, event, detail))
				return false
			}
			return len(st.Events) > 0
		})
	}

	// The accumulator check is deliberately not exclusive with the terminal
	// check above: an event matching both predicates is counted as a failure
	// on the same pass.
	if stage0.Match != nil && e.matcher.Matches(event, stage0.Match) {
		e.state.Update(rule.ID, group, func(st *WindowState) bool {
			if len(st.Events) == 0 {
				st.WindowStart = now
			}
			st.Events = append(st.Events, EventRef{ID: event.EventID, Timestamp: now})
			st.Count = len(st.Events)
			return true
		})
	}
	return fired
}

// groupValue resolves the state partition key for an event. Rules without
// group_by share one global window; a missing group field keys its own
// bucket rather than polluting the global one.
func (e *RuleEngine) groupValue(event *core.Event, groupBy string) string {
	if groupBy == "" {
		return globalGroup
	}
	if v, ok := event.Field(groupBy); ok {
		return stringify(v)
	}
	return "unknown"
}
