package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/motorlink/motorlink/pkg/metrics"
)

// PostgresConfig holds the database configuration.
type PostgresConfig struct {
	Logger   *slog.Logger
	Metrics  *metrics.RelayMetrics // Optional metrics
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	logger  *slog.Logger
	db      *gorm.DB
	metrics *metrics.RelayMetrics
}

// Ensure Postgres implements Store.
var _ Store = (*Postgres)(nil)

// NewPostgres creates a new database connection, runs migrations, and
// returns the ready Store.
func NewPostgres(cfg *PostgresConfig) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	// Build DSN
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	cfg.Logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"dbname", cfg.DBName,
	)

	// Configure GORM
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // Use slog instead of GORM's logger
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying SQL DB for connection pooling
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Ping database to verify connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info("database connection established")

	// Run migrations
	if err := db.AutoMigrate(&MotorState{}); err != nil {
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}

	return &Postgres{
		logger:  cfg.Logger,
		db:      db,
		metrics: cfg.Metrics,
	}, nil
}

// Read returns the persisted snapshot, or a default snapshot stamped
// with the current time when no row has been written yet.
func (s *Postgres) Read(ctx context.Context) (Snapshot, error) {
	timer := s.track("read")

	var row MotorState
	err := s.db.WithContext(ctx).First(&row, motorStateKey).Error

	if timer != nil {
		timer.ObserveDuration()
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.count("read", nil)
		return Snapshot{LastUpdated: time.Now().UTC()}, nil
	}
	if err != nil {
		s.count("read", err)
		return Snapshot{}, fmt.Errorf("failed to read motor state: %w", err)
	}

	s.count("read", nil)
	return Snapshot{
		MotorA:      row.MotorA,
		MotorB:      row.MotorB,
		Voltage:     row.Voltage,
		Current:     row.Current,
		Power:       row.Power,
		LastUpdated: row.LastUpdated,
	}, nil
}

// Upsert merges the patch into the singleton row, creating it on first
// write. A replayed or repeated update simply overwrites the same row.
func (s *Postgres) Upsert(ctx context.Context, p Patch) error {
	timer := s.track("upsert")
	defer func() {
		if timer != nil {
			timer.ObserveDuration()
		}
	}()

	assign := map[string]interface{}{
		"last_updated": time.Now().UTC(),
	}
	if p.MotorA != nil {
		assign["motor_a"] = *p.MotorA
	}
	if p.MotorB != nil {
		assign["motor_b"] = *p.MotorB
	}
	if p.Voltage != nil {
		assign["voltage"] = *p.Voltage
	}
	if p.Current != nil {
		assign["current"] = *p.Current
	}
	if p.Power != nil {
		assign["power"] = *p.Power
	}

	result := s.db.WithContext(ctx).
		Where("id = ?", motorStateKey).
		Assign(assign).
		FirstOrCreate(&MotorState{ID: motorStateKey})
	if result.Error != nil {
		s.count("upsert", result.Error)
		return fmt.Errorf("failed to upsert motor state: %w", result.Error)
	}

	s.count("upsert", nil)
	return nil
}

// Ping reports whether the database connection is alive.
func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		s.count("ping", err)
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.count("ping", nil)
	return nil
}

// Close closes the database connection.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	s.logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// track starts a duration observation for the given operation when
// metrics are enabled.
func (s *Postgres) track(operation string) *prometheus.Timer {
	if s.metrics == nil {
		return nil
	}
	return prometheus.NewTimer(s.metrics.StoreOperationDuration.WithLabelValues(operation))
}

// count records the operation outcome when metrics are enabled.
func (s *Postgres) count(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
}
