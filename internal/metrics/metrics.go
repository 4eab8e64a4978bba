// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for message
// throughput and persistence outcomes, and a histogram for append latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// NamedUsers tracks the current number of sessions that have named themselves.
	NamedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_named_users",
		Help: "Current number of named (active) chat participants",
	})

	// MessagesTotal counts messages processed, labeled by direction:
	// "received" (from clients) or "broadcast" (fanned out to clients).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"direction"})

	// PersistConflicts counts version conflicts observed while writing the
	// remote chat log.
	PersistConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_persist_conflicts_total",
		Help: "Version conflicts encountered writing the remote chat log",
	})

	// PersistFailures counts appends abandoned due to network errors or
	// retry exhaustion.
	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_persist_failures_total",
		Help: "Chat log appends abandoned without being persisted",
	})

	// AppendLatency records the end-to-end latency of persisting one entry,
	// including conflict retries.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_append_latency_seconds",
		Help:    "Latency of persisting one chat entry to the remote store",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		NamedUsers,
		MessagesTotal,
		PersistConflicts,
		PersistFailures,
		AppendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
