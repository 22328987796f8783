package detect

import (
	"context"
	"sync"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

const sinkTimeout = 5 * time.Second

// EventSink persists normalized events.
type EventSink interface {
	StoreEvent(ctx context.Context, event *core.Event) error
}

// AlertSink persists alerts and rule match bookkeeping.
type AlertSink interface {
	StoreAlert(ctx context.Context, alert *core.Alert) error
	IncrementRuleMatch(ctx context.Context, ruleID string) error
}

// Broadcaster publishes events and alerts to live subscribers. Delivery is
// fire-and-forget.
type Broadcaster interface {
	BroadcastEvent(event *core.Event)
	BroadcastAlert(alert *core.Alert)
}

// Detector drains the ingestion channel, runs each event through the rule
// engine and hands the results to the sinks. All I/O happens here, after the
// engine returns, so detection itself never blocks on persistence.
type Detector struct {
	engine      *RuleEngine
	events      <-chan *core.Event
	eventSink   EventSink
	alertSink   AlertSink
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewDetector wires the rule engine to its event source and sinks. The
// broadcaster may be nil.
func NewDetector(engine *RuleEngine, events <-chan *core.Event, eventSink EventSink, alertSink AlertSink, broadcaster Broadcaster, logger *zap.SugaredLogger) *Detector {
	return &Detector{
		engine:      engine,
		events:      events,
		eventSink:   eventSink,
		alertSink:   alertSink,
		broadcaster: broadcaster,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Engine returns the wrapped rule engine
func (d *Detector) Engine() *RuleEngine {
	return d.engine
}

// Start launches the processing loop and the engine's state sweep
func (d *Detector) Start() {
	d.engine.Start()
	d.wg.Add(1)
	go d.run()
}

// Stop drains the processing loop and stops the engine
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	d.engine.Stop()
}

func (d *Detector) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case event, ok := <-d.events:
			if !ok {
				return
			}
			d.handle(event)
		}
	}
}

func (d *Detector) handle(event *core.Event) {
	alerts := d.engine.ProcessEvent(event)

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := d.eventSink.StoreEvent(ctx, event); err != nil {
		d.logger.Errorf("Failed to store event %s: %v", event.EventID, err)
	}
	if d.broadcaster != nil {
		d.broadcaster.BroadcastEvent(event)
	}

	for _, alert := range alerts {
		if err := d.alertSink.StoreAlert(ctx, alert); err != nil {
			d.logger.Errorf("Failed to store alert %s: %v", alert.AlertID, err)
		}
		if err := d.alertSink.IncrementRuleMatch(ctx, alert.RuleID); err != nil {
			d.logger.Errorf("Failed to increment match count for rule %s: %v", alert.RuleID, err)
		}
		if d.broadcaster != nil {
			d.broadcaster.BroadcastAlert(alert)
		}
	}
}
