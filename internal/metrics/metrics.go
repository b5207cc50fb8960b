// ABOUTME: Prometheus metrics for the coordination engine.
// ABOUTME: Counters for operations, deliveries, broadcasts, violations, and events.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moot_operations_total",
			Help: "Total engine operations by name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moot_operation_duration_seconds",
			Help:    "Engine operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Coordination metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moot_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moot_messages_delivered_total",
			Help: "Total messages delivered",
		},
		[]string{"kind"}, // "direct", "broadcast", or "system"
	)

	BroadcastsDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moot_broadcasts_denied_total",
			Help: "Total broadcasts denied by the turn-taking gate",
		},
	)

	ViolationsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moot_violations_tracked_total",
			Help: "Total speaking violations tracked",
		},
		[]string{"tier"},
	)

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moot_notifications_published_total",
			Help: "Total notifications published",
		},
		[]string{"event"},
	)
)
