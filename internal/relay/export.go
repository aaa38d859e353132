package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/motorlink/motorlink/pkg/metrics"
	"github.com/motorlink/motorlink/pkg/mq"
)

const (
	// Frames queued for the publish worker before new ones are dropped.
	exportBufferSize = 256

	// Time allowed for a single publish, including broker confirmation.
	exportPushTimeout = 5 * time.Second
)

// ExporterConfig holds the exporter configuration.
type ExporterConfig struct {
	Logger    *slog.Logger
	Publisher mq.ClientInterface
	Metrics   *metrics.RelayMetrics // Optional metrics
}

// Exporter forwards observer-bound telemetry frames to a message queue
// so downstream pipelines can archive or analyze them. Delivery is
// best effort: when the publish worker falls behind, frames are
// dropped rather than the hub loop blocked.
type Exporter struct {
	logger    *slog.Logger
	publisher mq.ClientInterface
	metrics   *metrics.RelayMetrics
	queue     chan []byte
	wg        sync.WaitGroup
}

// NewExporter creates a new Exporter and starts its publish worker.
func NewExporter(cfg *ExporterConfig) (*Exporter, error) {
	if cfg == nil {
		return nil, errors.New("exporter config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	e := &Exporter{
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		queue:     make(chan []byte, exportBufferSize),
	}

	e.wg.Add(1)
	go e.run()

	return e, nil
}

// Publish queues a frame for export, dropping it when the queue is
// full. Must not be called after Stop.
func (e *Exporter) Publish(data []byte) {
	select {
	case e.queue <- data:
		if e.metrics != nil {
			e.metrics.ExportedFrames.Inc()
		}
	default:
		if e.metrics != nil {
			e.metrics.ExportDrops.Inc()
		}
		e.logger.Warn("export queue full, dropping frame")
	}
}

// run drains the queue into the publisher until Stop closes it.
func (e *Exporter) run() {
	defer e.wg.Done()

	for data := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), exportPushTimeout)
		if err := e.publisher.Push(ctx, data); err != nil {
			e.logger.Error("failed to publish telemetry frame", "error", err)
		}
		cancel()
	}
}

// Stop lets the worker drain the remaining frames, then closes the
// publisher. A publisher that never reached the broker reports
// mq.ErrAlreadyClosed; there is nothing to close and the shutdown
// stays clean.
func (e *Exporter) Stop() error {
	close(e.queue)
	e.wg.Wait()

	if err := e.publisher.Close(); err != nil {
		if errors.Is(err, mq.ErrAlreadyClosed) {
			e.logger.Info("publisher had no open connection")
			return nil
		}
		return fmt.Errorf("failed to close publisher: %w", err)
	}
	return nil
}
