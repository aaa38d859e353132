// Package relay implements the realtime relay between one embedded
// motor controller and many web observers: a websocket hub with a role
// registry, a message router, a best-effort broadcaster, and a REST
// facade over the persisted state.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/motorlink/motorlink/internal/store"
	"github.com/motorlink/motorlink/pkg/metrics"
)

// Timeout for state store operations issued from the hub loop.
const storeOpTimeout = 5 * time.Second

// ErrDeviceNotConnected is returned for motor commands that arrive
// while no device holds the slot.
var ErrDeviceNotConnected = errors.New("device not connected")

var errHubStopped = errors.New("hub is stopped")

// inboundFrame pairs a raw frame with the client that sent it.
type inboundFrame struct {
	client *Client
	data   []byte
}

// command is a motor switch request from the REST facade. The outcome
// is delivered on reply once the hub loop has processed it.
type command struct {
	motor string
	state bool
	reply chan error
}

// HubConfig holds the hub configuration.
type HubConfig struct {
	Logger   *slog.Logger
	Store    store.Store
	Exporter *Exporter             // Optional telemetry export
	Metrics  *metrics.RelayMetrics // Optional metrics
}

// Hub owns every websocket connection. Routing, registry mutation, and
// store access all run on the single Run goroutine, so handlers never
// race with each other; pumps and REST handlers reach the loop through
// channels.
type Hub struct {
	logger   *slog.Logger
	store    store.Store
	registry *Registry
	exporter *Exporter
	metrics  *metrics.RelayMetrics

	clients  map[*Client]struct{}
	attach   chan *Client
	detach   chan *Client
	frames   chan inboundFrame
	commands chan command

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("hub config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	return &Hub{
		logger:   cfg.Logger,
		store:    cfg.Store,
		registry: NewRegistry(),
		exporter: cfg.Exporter,
		metrics:  cfg.Metrics,
		clients:  make(map[*Client]struct{}),
		attach:   make(chan *Client),
		detach:   make(chan *Client, 8),
		frames:   make(chan inboundFrame, 64),
		commands: make(chan command),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Registry exposes the connection registry for the REST facade.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes hub events until the context is canceled or Stop is
// called. It must be running before any client attaches.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdownClients()
			return
		case <-h.stop:
			h.shutdownClients()
			return
		case c := <-h.attach:
			h.handleAttach(c)
		case c := <-h.detach:
			h.dropClient(c)
		case f := <-h.frames:
			h.routeFrame(f.client, f.data)
		case cmd := <-h.commands:
			cmd.reply <- h.deliverCommand("rest", cmd.motor, cmd.state)
		}
	}
}

// Stop terminates the hub loop and closes every connection. It must
// only be called after Run has started.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// SubmitCommand asks the hub loop to unicast a motor command to the
// device and persist the commanded state. Used by the REST facade.
func (h *Hub) SubmitCommand(ctx context.Context, motor string, state bool) error {
	cmd := command{motor: motor, state: state, reply: make(chan error, 1)}

	select {
	case h.commands <- cmd:
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attachClient hands a freshly upgraded connection to the hub loop and
// reports whether the hub accepted it.
func (h *Hub) attachClient(c *Client) bool {
	select {
	case h.attach <- c:
		return true
	case <-h.done:
		return false
	}
}

// detachClient reports a connection whose read pump has finished.
func (h *Hub) detachClient(c *Client) {
	select {
	case h.detach <- c:
	case <-h.done:
	}
}

// submitFrame forwards an inbound frame to the hub loop.
func (h *Hub) submitFrame(c *Client, data []byte) {
	select {
	case h.frames <- inboundFrame{client: c, data: data}:
	case <-h.done:
	}
}

func (h *Hub) handleAttach(c *Client) {
	h.clients[c] = struct{}{}

	if h.metrics != nil {
		h.metrics.ConnectionsActive.WithLabelValues(RoleUnregistered.String()).Inc()
		h.metrics.ConnectionsTotal.WithLabelValues(RoleUnregistered.String()).Inc()
	}

	h.logger.Debug("client attached", "remote_addr", c.RemoteAddr())
}

// dropClient removes a client from the registry and closes its send
// channel. Calling it again for the same client does nothing, so the
// read pump detach and a hub-side eviction cannot double-fire.
func (h *Hub) dropClient(c *Client) {
	if c.gone {
		return
	}
	c.gone = true

	delete(h.clients, c)
	wasDevice := h.registry.ClearDevice(c)
	h.registry.RemoveObserver(c)
	close(c.send)

	if h.metrics != nil {
		h.metrics.ConnectionsActive.WithLabelValues(c.role.String()).Dec()
	}

	h.logger.Info("client disconnected",
		"role", c.role.String(),
		"remote_addr", c.RemoteAddr(),
	)

	if wasDevice {
		h.broadcastDeviceStatus(false)
	}
}

// shutdownClients closes every remaining connection when the loop
// exits.
func (h *Hub) shutdownClients() {
	for c := range h.clients {
		h.dropClient(c)
	}
	h.logger.Info("hub stopped")
}
