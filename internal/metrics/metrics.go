// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connections and online users, counters for message
// throughput and fan-out, and a histogram for HTTP latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with a current session.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_online_users",
		Help: "Current number of users with an active session",
	})

	// MessagesTotal counts accepted and rejected messages, labeled by scope
	// ("group", "direct") and outcome ("stored", "rejected", "blocked").
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"scope", "outcome"})

	// DeletionsTotal counts delete requests by scope and outcome
	// ("deleted", "not_found").
	DeletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_deletions_total",
		Help: "Total number of message deletion requests",
	}, []string{"scope", "outcome"})

	// FramesDelivered counts outbound frames handed to a session, by event kind.
	FramesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_frames_delivered_total",
		Help: "Outbound frames queued for delivery",
	}, []string{"kind"})

	// FramesDropped counts outbound frames that could not be queued.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_frames_dropped_total",
		Help: "Outbound frames dropped because the session could not accept them",
	}, []string{"kind"})

	// AuthFailures counts rejected connection and login attempts by source
	// ("ws", "login", "bearer").
	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_auth_failures_total",
		Help: "Rejected authentication attempts",
	}, []string{"source"})

	// RequestLatency records HTTP request latency in seconds.
	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "huddle_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		DeletionsTotal,
		FramesDelivered,
		FramesDropped,
		AuthFailures,
		RequestLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
