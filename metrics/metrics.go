package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_ingested_total",
			Help: "Total number of events ingested",
		},
		[]string{"source"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_dropped_total",
			Help: "Total number of events dropped (rate limit, full channel, duplicate)",
		},
		[]string{"source", "reason"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"severity", "rule_type"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to evaluate all rules against one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_evaluation_errors_total",
			Help: "Total number of per-rule evaluation failures",
		},
		[]string{"rule_id"},
	)

	WindowStateEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_window_state_entries",
			Help: "Current number of threshold/correlation window state entries",
		},
	)

	WindowStateSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_window_state_sweeps_total",
			Help: "Total number of staleness sweeps over window state",
		},
	)

	TCPConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_tcp_connections_active",
			Help: "Current number of active TCP listener connections",
		},
		[]string{"listener"},
	)

	TCPConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_tcp_connections_rejected_total",
			Help: "Total number of TCP connections rejected by pool or per-IP limits",
		},
		[]string{"listener"},
	)
)
