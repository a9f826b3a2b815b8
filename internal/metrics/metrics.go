// Package metrics provides Prometheus metrics for the notification server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes recorded by the broadcast authorizer.
const (
	OutcomeDelivered  = "delivered"
	OutcomeSuppressed = "suppressed"
	OutcomeReaped     = "reaped"
	OutcomeUntrusted  = "untrusted"
	OutcomeDropped    = "dropped"
)

var (
	// ActiveConnections tracks the number of admitted WebSocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_ws_active_connections",
			Help: "Number of currently admitted WebSocket connections",
		},
	)

	// ActiveRooms tracks the number of rooms with at least one local member.
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_ws_active_rooms",
			Help: "Number of rooms with at least one connected member on this instance",
		},
	)

	// HandshakesRejected counts upgrade requests refused by the admission gate.
	HandshakesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_ws_handshakes_rejected_total",
			Help: "Total number of WebSocket handshakes rejected as unauthorized",
		},
	)

	// Deliveries counts per-recipient delivery decisions.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_ws_deliveries_total",
			Help: "Total number of per-recipient delivery decisions by outcome",
		},
		[]string{"outcome"},
	)

	// ChangeEvents counts change events received from the event bus.
	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_ws_change_events_total",
			Help: "Total number of change events received by topic",
		},
		[]string{"topic"},
	)

	// FanoutDuration tracks the time to deliver one change event to all recipients.
	FanoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_ws_fanout_duration_seconds",
			Help:    "Time to fan out one change event to every affected connection",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// StateWritesFailed counts presence state writes the store rejected or dropped.
	StateWritesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_ws_state_writes_failed_total",
			Help: "Total number of presence state writes that failed or were dropped",
		},
	)
)

// RecordDelivery increments the delivery counter for outcome.
func RecordDelivery(outcome string) {
	Deliveries.WithLabelValues(outcome).Inc()
}

// RecordIndexSize publishes the current index sizes.
func RecordIndexSize(connections, rooms int) {
	ActiveConnections.Set(float64(connections))
	ActiveRooms.Set(float64(rooms))
}
