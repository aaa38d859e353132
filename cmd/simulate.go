package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/motorlink/motorlink/internal/simulator"
	"github.com/motorlink/motorlink/pkg/metrics"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the device simulator",
	Long: `Run the device simulator that:
- Connects to a relay as the motor controller
- Pushes synthetic voltage, current, and power telemetry
- Applies motor commands received from the relay`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Simulator-specific flags
	simulateCmd.Flags().String("relay-url", "ws://localhost:8080/ws", "Relay websocket URL")
	simulateCmd.Flags().String("device-id", "", "Device ID (fabricated when empty)")
	simulateCmd.Flags().Duration("interval", 2*time.Second, "Interval between telemetry pushes")
	simulateCmd.Flags().Int("metrics-port", 9091, "Prometheus metrics port (0 disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.relay.url", simulateCmd.Flags().Lookup("relay-url"))
	_ = viper.BindPFlag("simulator.device_id", simulateCmd.Flags().Lookup("device-id"))
	_ = viper.BindPFlag("simulator.interval", simulateCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulator.metrics_port", simulateCmd.Flags().Lookup("metrics-port"))
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator service")

	// Create simulator configuration from viper
	config := &simulator.ServerConfig{
		Logger:      logger,
		RelayURL:    viper.GetString("simulator.relay.url"),
		DeviceID:    viper.GetString("simulator.device_id"),
		Interval:    viper.GetDuration("simulator.interval"),
		MetricsPort: viper.GetInt("simulator.metrics_port"),
		Metrics:     metrics.NewSimulatorMetrics("motorlink"),
		WSMetrics:   metrics.NewWSMetrics("motorlink"),
	}

	// Create and run server
	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator server", "error", err)
		return err
	}

	logger.Info("simulator server configuration",
		"relay_url", config.RelayURL,
		"interval", config.Interval,
		"metrics_port", config.MetricsPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator server error", "error", err)
		return err
	}

	logger.Info("simulator server stopped")
	return nil
}
