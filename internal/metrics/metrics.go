package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parokia_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parokia_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Presence metrics
	SessionsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parokia_sessions_registered_total",
			Help: "Total client sessions registered",
		},
	)

	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parokia_heartbeats_total",
			Help: "Total heartbeats accepted",
		},
	)

	SessionsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parokia_sessions_reclaimed_total",
			Help: "Total stale sessions reclaimed by timeout",
		},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parokia_messages_sent_total",
			Help: "Total messages stored",
		},
		[]string{"sender"}, // "admin", "user" or "system"
	)

	Polls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parokia_message_polls_total",
			Help: "Total message poll requests",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parokia_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
