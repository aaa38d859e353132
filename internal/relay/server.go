package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/motorlink/motorlink/internal/store"
	"github.com/motorlink/motorlink/pkg/metrics"
	"github.com/motorlink/motorlink/pkg/mq"
)

// Server wires the state store, hub, telemetry exporter, and HTTP
// endpoints into one relay process.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	store      store.Store
	hub        *Hub
	exporter   *Exporter
	httpServer *http.Server
	metrics    *metrics.RelayMetrics
	startedAt  time.Time
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP server configuration
	HTTPPort int
	WSPath   string

	// State store configuration. Driver is postgres or memory; the
	// memory driver loses state on restart and exists for development.
	DBDriver   string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// Telemetry export configuration. An empty AMQP URL disables the
	// export pipeline entirely.
	AMQPURL     string
	ExportQueue string

	// Optional metrics
	Metrics   *metrics.RelayMetrics
	MQMetrics *metrics.MQMetrics
}

// NewServer creates a new relay Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if !strings.HasPrefix(cfg.WSPath, "/") {
		return nil, errors.New("websocket path must start with /")
	}

	switch cfg.DBDriver {
	case "memory":
	case "postgres":
		if cfg.DBHost == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.DBPort <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.DBUser == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	default:
		return nil, errors.New("database driver must be postgres or memory")
	}

	if cfg.AMQPURL != "" && cfg.ExportQueue == "" {
		return nil, errors.New("export queue name cannot be empty")
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run starts the relay server and blocks until shutdown. The only
// fatal startup condition is an unreachable state store; everything
// downstream reconnects or degrades instead of exiting.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting relay server")
	s.startedAt = time.Now()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Initialize state store
	st, err := s.newStore()
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}
	s.store = st

	s.logger.Info("state store initialized", "driver", s.config.DBDriver)

	// Initialize telemetry export
	if s.config.AMQPURL != "" {
		publisher := mq.New(s.config.ExportQueue, s.config.AMQPURL, s.logger)
		if s.config.MQMetrics != nil {
			publisher.SetMetrics(s.config.MQMetrics)
		}

		exporter, err := NewExporter(&ExporterConfig{
			Logger:    s.logger,
			Publisher: publisher,
			Metrics:   s.config.Metrics,
		})
		if err != nil {
			if closeErr := s.store.Close(); closeErr != nil {
				s.logger.Error("failed to close state store", "error", closeErr)
			}
			return fmt.Errorf("failed to initialize exporter: %w", err)
		}
		s.exporter = exporter

		s.logger.Info("telemetry export enabled", "queue", s.config.ExportQueue)
	}

	// Initialize hub
	hub, err := NewHub(&HubConfig{
		Logger:   s.logger,
		Store:    s.store,
		Exporter: s.exporter,
		Metrics:  s.config.Metrics,
	})
	if err != nil {
		if closeErr := s.store.Close(); closeErr != nil {
			s.logger.Error("failed to close state store", "error", closeErr)
		}
		return fmt.Errorf("failed to initialize hub: %w", err)
	}
	s.hub = hub

	go s.hub.Run(ctx)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"address", s.httpServer.Addr,
		"ws_path", s.config.WSPath,
	)

	// Start HTTP server in goroutine
	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("relay server started successfully")

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			s.shutdownAfterHTTPError()
			return err
		}
	}

	// Shutdown
	return s.Shutdown()
}

// newStore opens the configured state store driver.
func (s *Server) newStore() (store.Store, error) {
	if s.config.DBDriver == "memory" {
		return store.NewMemory(), nil
	}

	return store.NewPostgres(&store.PostgresConfig{
		Logger:   s.logger,
		Metrics:  s.config.Metrics,
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down relay server")

	var shutdownErr error

	// Stop accepting HTTP traffic and websocket upgrades
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	shutdownErr = s.stopPipeline(shutdownErr)

	if shutdownErr != nil {
		s.logger.Error("relay server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("relay server shutdown completed successfully")
	return nil
}

// shutdownAfterHTTPError tears down the hub, exporter, and store when
// the HTTP server already failed on its own.
func (s *Server) shutdownAfterHTTPError() {
	if err := s.stopPipeline(nil); err != nil {
		s.logger.Error("failed to stop relay pipeline", "error", err)
	}
}

// stopPipeline stops the hub, exporter, and store in dependency order,
// accumulating errors onto prev.
func (s *Server) stopPipeline(prev error) error {
	shutdownErr := prev

	// Stop the hub; this closes every websocket connection
	if s.hub != nil {
		s.logger.Info("stopping hub")
		s.hub.Stop()
	}

	// Drain and stop the exporter
	if s.exporter != nil {
		s.logger.Info("stopping exporter")
		if err := s.exporter.Stop(); err != nil {
			s.logger.Error("failed to stop exporter", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; exporter shutdown error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("exporter shutdown error: %w", err)
			}
		}
	}

	// Close the state store
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close state store", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; state store close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("state store close error: %w", err)
			}
		}
	}

	return shutdownErr
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))

	// REST facade
	mux.HandleFunc("GET /status", s.instrument("/status", s.handleStatus))
	mux.HandleFunc("POST /motor/{id}", s.instrument("/motor/{id}", s.handleMotor))

	// Websocket relay
	mux.HandleFunc("GET "+s.config.WSPath, s.hub.ServeWS)

	// Prometheus metrics
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}
