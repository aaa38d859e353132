package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/motorlink/motorlink/pkg/logger"
	"github.com/motorlink/motorlink/pkg/metrics"
	"github.com/motorlink/motorlink/pkg/protocol"
	"github.com/motorlink/motorlink/pkg/wsclient"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RelayURL is the relay websocket endpoint
	RelayURL string
	// DeviceID overrides the fabricated device id when set
	DeviceID string
	// Interval is the time between telemetry pushes
	Interval time.Duration
	// MetricsPort serves /metrics when positive; 0 disables it
	MetricsPort int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
	// WSMetrics is the optional Prometheus metrics collector for the
	// websocket client
	WSMetrics *metrics.WSMetrics
}

// Server drives one simulated device against the relay.
type Server struct {
	logger        *slog.Logger
	config        *ServerConfig
	identity      *Identity
	device        *Device
	client        *wsclient.Client
	metricsServer *http.Server
	wg            sync.WaitGroup
	metrics       *metrics.SimulatorMetrics
}

var (
	errConfigRequired   = errors.New("config is required")
	errLoggerRequired   = errors.New("logger is required")
	errRelayURLRequired = errors.New("relay URL is required")
	errInvalidInterval  = errors.New("interval must be greater than 0")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.RelayURL == "" {
		return nil, errRelayURLRequired
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	identity := NewIdentity()
	if identity == nil {
		return nil, errors.New("failed to generate device identity")
	}
	if cfg.DeviceID != "" {
		identity.DeviceID = cfg.DeviceID
	}

	s := &Server{
		logger:   cfg.Logger,
		config:   cfg,
		identity: identity,
		device:   NewDevice(),
		metrics:  cfg.Metrics,
	}

	s.logger.Info("simulated device created",
		"device_id", identity.DeviceID,
		"mac_address", identity.MacAddress,
		"firmware", identity.Firmware,
	)

	return s, nil
}

// Run connects to the relay and pushes telemetry until shutdown signal
// is received or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// The dial goroutine can fire OnConnect before New returns; hold
	// registration until the client handle is assigned.
	ready := make(chan struct{})

	client, err := wsclient.New(&wsclient.Config{
		Logger: logger.Component(s.logger, "wsclient"),
		URL:    s.config.RelayURL,
		OnConnect: func() {
			<-ready
			s.register()
		},
		OnMessage: s.handleMessage,
		Metrics:   s.config.WSMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}
	s.client = client
	close(ready)

	s.wg.Add(1)
	go s.runTelemetry(ctx)

	if s.config.MetricsPort > 0 {
		s.startMetricsServer()
	}

	s.logger.Info("simulator started",
		"relay_url", s.config.RelayURL,
		"interval", s.config.Interval,
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.wg.Wait()

	if s.metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown metrics server", "error", err)
		}
	}

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close relay client: %w", err)
	}

	s.logger.Info("simulator stopped")
	return nil
}

// startMetricsServer exposes the Prometheus endpoint. A failed listen
// only costs observability, so it is logged rather than fatal.
func (s *Server) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())

	s.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting metrics server", "address", s.metricsServer.Addr)

	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
}

// register announces this connection as the device. Called after every
// successful (re)connection.
func (s *Server) register() {
	data, err := json.Marshal(protocol.DeviceRegister{
		Type: protocol.TypeDeviceRegister,
		ID:   s.identity.DeviceID,
	})
	if err != nil {
		s.logger.Error("failed to marshal registration", "error", err)
		return
	}

	if err := s.client.Send(data); err != nil {
		s.logger.Error("failed to register with relay", "error", err)
		return
	}

	s.logger.Info("registered with relay", "device_id", s.identity.DeviceID)
}

// handleMessage dispatches one frame from the relay.
func (s *Server) handleMessage(data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		s.logger.Warn("dropping unparseable frame", "error", err)
		return
	}

	switch typ {
	case protocol.TypeInitialState:
		s.handleInitialState(data)
	case protocol.TypeMotorCommand:
		s.handleMotorCommand(data)
	default:
		s.logger.Debug("ignoring frame", "type", string(typ))
	}
}

// handleInitialState restores the motor flags the relay has on record,
// the same way the firmware picks up where it left off after a reboot.
func (s *Server) handleInitialState(data []byte) {
	var initial protocol.InitialState
	if err := json.Unmarshal(data, &initial); err != nil {
		s.logger.Warn("dropping malformed initial state", "error", err)
		return
	}

	s.device.Restore(initial.MotorA, initial.MotorB)
	s.syncMotorsGauge()

	s.logger.Info("restored motor state from relay",
		"motor_a", initial.MotorA,
		"motor_b", initial.MotorB,
	)
}

// handleMotorCommand applies a switch command and immediately confirms
// the new state instead of waiting for the next telemetry tick.
func (s *Server) handleMotorCommand(data []byte) {
	var cmd protocol.MotorCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.logger.Warn("dropping malformed motor command", "error", err)
		return
	}

	if !s.device.Apply(cmd.Motor, cmd.State) {
		s.logger.Warn("ignoring command for unknown motor", "motor", cmd.Motor)
		return
	}

	if s.metrics != nil {
		s.metrics.CommandsApplied.WithLabelValues(cmd.Motor).Inc()
	}
	s.syncMotorsGauge()

	s.logger.Info("motor command applied",
		"motor", cmd.Motor,
		"state", cmd.State,
	)

	s.pushTelemetry()
}

// runTelemetry pushes a state update at every tick until the context is
// canceled.
func (s *Server) runTelemetry(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry loop shutting down")
			return
		case <-ticker.C:
			s.pushTelemetry()
		}
	}
}

// pushTelemetry sends one reading. Failures are counted and dropped;
// the relay rebuilds the picture from the next successful push.
func (s *Server) pushTelemetry() {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.PushDuration)
		defer timer.ObserveDuration()
	}

	update := s.device.Telemetry()
	data, err := json.Marshal(update)
	if err != nil {
		s.logger.Error("failed to marshal state update", "error", err)
		if s.metrics != nil {
			s.metrics.PushFailures.WithLabelValues("marshal_error").Inc()
		}
		return
	}

	if err := s.client.Send(data); err != nil {
		s.logger.Debug("state update not sent", "error", err)
		if s.metrics != nil {
			s.metrics.PushFailures.WithLabelValues("send_error").Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.TelemetryPushed.Inc()
	}

	s.logger.Debug("state update pushed",
		"motor_a", update.MotorA,
		"motor_b", update.MotorB,
		"voltage", update.Voltage,
		"current", update.Current,
		"power", update.Power,
	)
}

func (s *Server) syncMotorsGauge() {
	if s.metrics != nil {
		s.metrics.MotorsRunning.Set(float64(s.device.RunningCount()))
	}
}
