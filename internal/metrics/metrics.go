// Package metrics provides Prometheus instrumentation for the Pulse board
// server. It exposes gauges for connection and room counts, counters for
// event throughput and broadcast failures, and histograms for mutation
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsActive tracks the number of rooms with at least one subscriber.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_rooms_active",
		Help: "Current number of rooms with at least one subscriber",
	})

	// EventsPublished counts domain events handed to the dispatcher, labeled by
	// kind: "taskCreated", "taskUpdated", "taskDeleted", or "receiveMessage".
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_published_total",
		Help: "Total number of domain events published",
	}, []string{"kind"})

	// BroadcastFailures counts per-session delivery failures. Delivery is best
	// effort and a failure never aborts the rest of the fan-out.
	BroadcastFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_broadcast_failures_total",
		Help: "Total number of failed event deliveries to individual sessions",
	})

	// MutationLatency records persist-then-publish latency in seconds, labeled
	// by operation.
	MutationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_mutation_latency_seconds",
		Help:    "Mutation gateway latency (persist + publish) in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})

	// PersistRetries counts transient store errors that were retried.
	PersistRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_persist_retries_total",
		Help: "Total number of retried transient persistence errors",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsActive,
		EventsPublished,
		BroadcastFailures,
		MutationLatency,
		PersistRetries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
