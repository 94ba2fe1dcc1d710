package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carechat/pkg/types"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// Connection metrics
	ConnectionState   *prometheus.GaugeVec
	Reconnects        prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
	FramesReceived    *prometheus.CounterVec

	// Outbound metrics
	MessagesSent   prometheus.Counter
	MessagesQueued prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Credential metrics
	TokenRefreshes *prometheus.CounterVec

	// REST metrics
	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

var connectionStates = []types.ConnectionState{
	types.StateDisconnected,
	types.StateConnecting,
	types.StateConnected,
	types.StateDisconnecting,
}

// NewMetrics registers all collectors with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "carechat_connection_state",
				Help: "Current chat connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "carechat_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled",
		}),
		HeartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "carechat_heartbeat_timeouts_total",
			Help: "Total number of connections force-closed for missing heartbeats",
		}),
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carechat_frames_received_total",
				Help: "Total number of inbound frames by kind",
			},
			[]string{"kind"},
		),

		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "carechat_messages_sent_total",
			Help: "Total number of chat messages written to the socket",
		}),
		MessagesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "carechat_messages_queued_total",
			Help: "Total number of chat messages admitted to the outbound queue",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carechat_outbound_queue_depth",
			Help: "Number of messages waiting in the outbound queue",
		}),

		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carechat_token_refreshes_total",
				Help: "Total number of access token refreshes by result",
			},
			[]string{"result"},
		),

		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carechat_api_requests_total",
				Help: "Total number of REST requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carechat_api_request_duration_seconds",
				Help:    "REST request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// SetConnectionState marks state as the only active connection state.
func (m *Metrics) SetConnectionState(state types.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(value)
	}
}

func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) IncHeartbeatTimeouts() {
	if m == nil {
		return
	}
	m.HeartbeatTimeouts.Inc()
}

func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) IncMessagesQueued() {
	if m == nil {
		return
	}
	m.MessagesQueued.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordRefresh counts a token refresh; result is "success" or "failure".
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordAPIRequest records one REST call. status is the HTTP status code as
// text, or "error" for transport failures.
func (m *Metrics) RecordAPIRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(operation, status).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
