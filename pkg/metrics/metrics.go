package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Total number of events published to the bus by category",
		},
		[]string{"category"},
	)

	EventsDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_delivered_total",
			Help: "Total number of event deliveries to subscribers",
		},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total number of events dropped from full subscriber mailboxes",
		},
	)

	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_bus_subscribers",
			Help: "Current number of bus subscriptions",
		},
	)

	// Connector metrics
	ConnectorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_connectors_total",
			Help: "Total number of connector instances by status",
		},
		[]string{"status"},
	)

	ConnectorOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_connector_operations_total",
			Help: "Total number of dispatched capability operations by result",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_operation_duration_seconds",
			Help:    "Capability operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_reconnect_attempts_total",
			Help: "Total number of supervisor reconnection attempts",
		},
		[]string{"connector_id"},
	)

	// Rule engine metrics
	RuleEvaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rule_evaluations_total",
			Help: "Total number of rule evaluations",
		},
	)

	RulesFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rules_fired_total",
			Help: "Total number of rule firings",
		},
		[]string{"rule_id"},
	)

	RuleActionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rule_action_failures_total",
			Help: "Total number of failed rule actions",
		},
		[]string{"rule_id", "action"},
	)

	AlarmsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_alarms_active",
			Help: "Current number of active (unacknowledged) alarms",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsDeliveredTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(BusSubscribers)
	prometheus.MustRegister(ConnectorsTotal)
	prometheus.MustRegister(ConnectorOperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(ReconnectAttemptsTotal)
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(RulesFiredTotal)
	prometheus.MustRegister(RuleActionFailuresTotal)
	prometheus.MustRegister(AlarmsActive)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
