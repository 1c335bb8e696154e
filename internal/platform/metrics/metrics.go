// Package metrics provides Prometheus metrics for the chat engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of live websocket connections on this node.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of live websocket connections",
		},
	)

	// OnlineUsers tracks users holding at least one connection on this node.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users with at least one live connection",
		},
	)

	// FramesReceived counts inbound frames by type.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_frames_received_total",
			Help: "Total number of inbound frames by type",
		},
		[]string{"type"},
	)

	// Messages counts message sends by outcome.
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of message sends by result",
		},
		[]string{"result"},
	)

	// FanoutDeliveries counts frames handed to local connections.
	FanoutDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Total number of frames delivered to local connections",
		},
	)

	// SeenMarked counts messages flipped to seen.
	SeenMarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_seen_marked_total",
			Help: "Total number of messages marked seen",
		},
	)

	// HandshakeRejected counts refused websocket handshakes by reason.
	HandshakeRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_handshake_rejected_total",
			Help: "Total number of rejected websocket handshakes",
		},
		[]string{"reason"},
	)

	// PresenceBroadcasts counts presence transitions by whether their delta
	// went out or was suppressed because another node holds the user.
	PresenceBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_broadcasts_total",
			Help: "Total number of presence transitions by result",
		},
		[]string{"result"},
	)

	// PersistDuration tracks message persistence latency.
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_persist_duration_seconds",
			Help:    "Duration of message persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
)

// RecordMessage increments the message counter for result.
func RecordMessage(result string) {
	Messages.WithLabelValues(result).Inc()
}

// RecordFrame increments the inbound frame counter.
func RecordFrame(frameType string) {
	if frameType == "" {
		frameType = "unknown"
	}
	FramesReceived.WithLabelValues(frameType).Inc()
}
