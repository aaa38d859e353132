package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the device simulator.
type SimulatorMetrics struct {
	TelemetryPushed prometheus.Counter
	PushFailures    *prometheus.CounterVec
	CommandsApplied *prometheus.CounterVec
	PushDuration    prometheus.Histogram
	MotorsRunning   prometheus.Gauge
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		TelemetryPushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "telemetry_pushed_total",
				Help:      "Total number of state updates pushed to the relay",
			},
		),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "push_failures_total",
				Help:      "Total number of failed state update pushes",
			},
			[]string{"reason"}, // reason: marshal_error, send_error
		),
		CommandsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "commands_applied_total",
				Help:      "Total number of motor commands applied to the simulated device",
			},
			[]string{"motor"},
		),
		PushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "push_duration_seconds",
				Help:      "Duration of state update pushes",
				Buckets:   prometheus.DefBuckets,
			},
		),
		MotorsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "motors_running",
				Help:      "Number of simulated motors currently switched on",
			},
		),
	}

	MustRegister(
		m.TelemetryPushed,
		m.PushFailures,
		m.CommandsApplied,
		m.PushDuration,
		m.MotorsRunning,
	)

	return m
}
