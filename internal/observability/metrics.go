package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldchat_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// RedisPublishErrors counts failed event publishes to Redis.
	RedisPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shieldchat_redis_publish_errors_total",
		Help: "Total number of failed Redis event publishes",
	})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shieldchat_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of active WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shieldchat_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// PathSubscriptionsTotal is the gauge of active path subscriptions.
	PathSubscriptionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shieldchat_path_subscriptions_total",
		Help: "Total number of active event path subscriptions",
	})

	// EventsPublishedTotal counts events fanned out by action type.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldchat_events_published_total",
		Help: "Total number of channel events published by action",
	}, []string{"action"})

	// ChatMessagesTotal counts chat messages accepted for delivery.
	ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shieldchat_messages_total",
		Help: "Total number of chat messages sent",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldchat_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// DatabaseMetrics wraps DB access for recording query latency.
type DatabaseMetrics struct {
	db *gorm.DB
}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics(db *gorm.DB) *DatabaseMetrics {
	return &DatabaseMetrics{db: db}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}
