package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics contains Prometheus metrics for the relay service.
type RelayMetrics struct {
	ConnectionsActive      *prometheus.GaugeVec
	ConnectionsTotal       *prometheus.CounterVec
	FramesRouted           *prometheus.CounterVec
	FramesDropped          *prometheus.CounterVec
	BroadcastRecipients    prometheus.Histogram
	CommandsDelivered      *prometheus.CounterVec
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	HTTPRequestsTotal      *prometheus.CounterVec
	ExportedFrames         prometheus.Counter
	ExportDrops            prometheus.Counter
}

// NewRelayMetrics creates and registers relay service metrics.
func NewRelayMetrics(namespace string) *RelayMetrics {
	m := &RelayMetrics{
		ConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "connections_active",
				Help:      "Number of currently open websocket connections",
			},
			[]string{"role"}, // role: device, observer, unregistered
		),
		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "connections_total",
				Help:      "Total number of websocket connections accepted",
			},
			[]string{"role"},
		),
		FramesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "frames_routed_total",
				Help:      "Total number of inbound frames dispatched by message type",
			},
			[]string{"type", "status"}, // status: ok, dropped, error
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "frames_dropped_total",
				Help:      "Total number of inbound frames dropped without a reply",
			},
			[]string{"reason"}, // reason: malformed, unknown_type, out_of_role, orphaned
		),
		BroadcastRecipients: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "broadcast_recipients",
				Help:      "Number of observers reached per broadcast",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
			},
		),
		CommandsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "commands_delivered_total",
				Help:      "Total number of motor commands unicast to the device",
			},
			[]string{"source", "status"}, // source: ws, rest; status: success, no_device, send_error
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of state store operations",
			},
			[]string{"operation", "status"}, // operation: read, upsert
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of state store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		ExportedFrames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "frames_total",
				Help:      "Total number of telemetry frames handed to the export publisher",
			},
		),
		ExportDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "drops_total",
				Help:      "Total number of telemetry frames dropped due to a full export queue",
			},
		),
	}

	MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.FramesRouted,
		m.FramesDropped,
		m.BroadcastRecipients,
		m.CommandsDelivered,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.HTTPRequestsTotal,
		m.ExportedFrames,
		m.ExportDrops,
	)

	return m
}
