// Package metrics provides Prometheus instrumentation for the DM gateway. It
// exposes a gauge for live connections, counters for message and presence
// throughput, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for MessagesTotal.
const (
	OutcomeDelivered = "delivered" // persisted and pushed to the receiver
	OutcomeStored    = "stored"    // persisted, receiver offline
	OutcomeRejected  = "rejected"  // failed validation or rate limit
	OutcomeFailed    = "failed"    // persistence error
)

var (
	// ConnectionsActive tracks the current number of admitted WebSocket
	// connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_dm_connections_active",
		Help: "Current number of admitted WebSocket connections",
	})

	// Supersessions counts connections force-closed because the same user
	// connected again.
	Supersessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whisper_dm_supersessions_total",
		Help: "Connections replaced by a newer connection for the same user",
	})

	// AuthFailures counts handshakes rejected before upgrade.
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whisper_dm_auth_failures_total",
		Help: "WebSocket handshakes rejected for missing or invalid credentials",
	})

	// MessagesTotal counts sendMessage requests by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_dm_messages_total",
		Help: "Direct messages processed, by outcome",
	}, []string{"outcome"})

	// PushesDropped counts live pushes that hit a closed or saturated handle.
	PushesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whisper_dm_pushes_dropped_total",
		Help: "Live pushes dropped because the target connection was gone",
	})

	// ReadMarks counts markAsRead calls, and MessagesMarkedRead the rows they
	// flipped.
	ReadMarks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whisper_dm_read_marks_total",
		Help: "markAsRead operations applied",
	})
	MessagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whisper_dm_messages_marked_read_total",
		Help: "Messages transitioned from unread to read",
	})

	// PresenceTransitions counts announced presence changes by status.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_dm_presence_transitions_total",
		Help: "Presence transitions broadcast, by status",
	}, []string{"status"})

	// SendLatency records the time from request to persisted-and-pushed.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisper_dm_send_latency_seconds",
		Help:    "sendMessage processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		Supersessions,
		AuthFailures,
		MessagesTotal,
		PushesDropped,
		ReadMarks,
		MessagesMarkedRead,
		PresenceTransitions,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
