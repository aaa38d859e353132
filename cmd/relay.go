package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/motorlink/motorlink/internal/relay"
	"github.com/motorlink/motorlink/pkg/metrics"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay server",
	Long: `Run the relay server that:
- Accepts websocket sessions from the motor controller and observers
- Routes telemetry and motor commands between them
- Persists motor state to PostgreSQL
- Serves the REST control facade
- Exports telemetry frames to RabbitMQ`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	// Relay-specific flags
	relayCmd.Flags().Int("http-port", 8080, "HTTP server port")
	relayCmd.Flags().String("ws-path", "/ws", "Websocket endpoint path")
	relayCmd.Flags().String("db-driver", "postgres", "State store driver (postgres or memory)")
	relayCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	relayCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	relayCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	relayCmd.Flags().String("db-password", "", "PostgreSQL password")
	relayCmd.Flags().String("db-name", "motorlink", "PostgreSQL database name")
	relayCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	relayCmd.Flags().String("amqp-url", "", "RabbitMQ URL for telemetry export (empty disables export)")
	relayCmd.Flags().String("export-queue-name", "motor-telemetry", "RabbitMQ queue name for exported telemetry")

	// Bind flags to viper
	_ = viper.BindPFlag("relay.http.port", relayCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("relay.ws.path", relayCmd.Flags().Lookup("ws-path"))
	_ = viper.BindPFlag("relay.db.driver", relayCmd.Flags().Lookup("db-driver"))
	_ = viper.BindPFlag("relay.db.host", relayCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("relay.db.port", relayCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("relay.db.user", relayCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("relay.db.password", relayCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("relay.db.name", relayCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("relay.db.sslmode", relayCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("relay.amqp.url", relayCmd.Flags().Lookup("amqp-url"))
	_ = viper.BindPFlag("relay.amqp.export_queue", relayCmd.Flags().Lookup("export-queue-name"))
}

func runRelay(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting relay service")

	// Create relay configuration from viper
	config := &relay.ServerConfig{
		Logger:      logger,
		HTTPPort:    viper.GetInt("relay.http.port"),
		WSPath:      viper.GetString("relay.ws.path"),
		DBDriver:    viper.GetString("relay.db.driver"),
		DBHost:      viper.GetString("relay.db.host"),
		DBPort:      viper.GetInt("relay.db.port"),
		DBUser:      viper.GetString("relay.db.user"),
		DBPassword:  viper.GetString("relay.db.password"),
		DBName:      viper.GetString("relay.db.name"),
		DBSSLMode:   viper.GetString("relay.db.sslmode"),
		AMQPURL:     viper.GetString("relay.amqp.url"),
		ExportQueue: viper.GetString("relay.amqp.export_queue"),
		Metrics:     metrics.NewRelayMetrics("motorlink"),
		MQMetrics:   metrics.NewMQMetrics("motorlink"),
	}

	// Create and run server
	server, err := relay.NewServer(config)
	if err != nil {
		logger.Error("failed to create relay server", "error", err)
		return err
	}

	logger.Info("relay server configuration",
		"http_port", config.HTTPPort,
		"ws_path", config.WSPath,
		"db_driver", config.DBDriver,
		"db_host", config.DBHost,
		"db_name", config.DBName,
		"amqp_url", config.AMQPURL,
		"export_queue", config.ExportQueue,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("relay server error", "error", err)
		return err
	}

	logger.Info("relay server stopped")
	return nil
}
