package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WSMetrics contains Prometheus metrics for the reconnecting websocket client.
type WSMetrics struct {
	ConnectionStatus  prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	MessagesSent      prometheus.Counter
	MessagesReceived  prometheus.Counter
	SendFailures      *prometheus.CounterVec
	SendDuration      prometheus.Histogram
}

// NewWSMetrics creates and registers websocket client metrics.
func NewWSMetrics(namespace string) *WSMetrics {
	m := &WSMetrics{
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "wsclient",
				Name:      "connection_status",
				Help:      "Current connection status (1=connected, 0=disconnected)",
			},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wsclient",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of dial attempts",
			},
		),
		MessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wsclient",
				Name:      "messages_sent_total",
				Help:      "Total number of messages written to the connection",
			},
		),
		MessagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wsclient",
				Name:      "messages_received_total",
				Help:      "Total number of messages read from the connection",
			},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wsclient",
				Name:      "send_failures_total",
				Help:      "Total number of failed writes",
			},
			[]string{"reason"}, // reason: not_connected, write_error
		),
		SendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "wsclient",
				Name:      "send_duration_seconds",
				Help:      "Duration of message writes",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.ConnectionStatus,
		m.ReconnectAttempts,
		m.MessagesSent,
		m.MessagesReceived,
		m.SendFailures,
		m.SendDuration,
	)

	return m
}
