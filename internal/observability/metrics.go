package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of active WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// EventsPublishedTotal counts realtime events published by type.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_published_total",
		Help: "Total realtime events published by event type",
	}, []string{"event_type"})

	// EventsDeliveredTotal counts realtime events written to client sockets.
	EventsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_delivered_total",
		Help: "Total realtime events delivered to client sockets by hub",
	}, []string{"hub"})

	// WebSocketBackpressureDrops counts events dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket events dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MessagesSentTotal counts persisted chat messages by type.
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_sent_total",
		Help: "Total chat messages persisted by message type",
	}, []string{"message_type"})
)

// DatabaseMetrics wraps DB access for recording query latency.
type DatabaseMetrics struct{}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics() *DatabaseMetrics {
	return &DatabaseMetrics{}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}
