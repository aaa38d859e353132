// Package wsclient provides a websocket client with automatic reconnection.
// The simulator uses it to hold a long-lived connection to the relay the
// same way the firmware does: dial, register, then push and receive frames
// until the link drops, redialing forever.
package wsclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/motorlink/motorlink/pkg/metrics"
)

const (
	// When redialing the relay after a connection failure.
	redialDelay = 5 * time.Second

	// Time allowed to write a message to the relay.
	writeWait = 10 * time.Second
)

var (
	errNotConnected  = errors.New("not connected to the relay")
	errAlreadyClosed = errors.New("already closed: not connected to the relay")
)

// Config holds the websocket client configuration.
type Config struct {
	// Logger is the logger to use.
	Logger *slog.Logger
	// URL is the relay websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// OnConnect is called after every successful (re)connection,
	// before any message is read. Use it to re-register.
	OnConnect func()
	// OnMessage is called for every message received from the relay.
	OnMessage func(data []byte)
	// Metrics is the optional metrics collector.
	Metrics *metrics.WSMetrics
}

// Client is a websocket client that handles connection management and
// automatic reconnection. Sends are serialized; reads run in a single
// background goroutine and are delivered through the OnMessage callback.
type Client struct {
	m         *sync.Mutex
	logger    *slog.Logger
	url       string
	conn      *websocket.Conn
	done      chan bool
	isReady   bool
	closed    bool
	onConnect func()
	onMessage func(data []byte)
	metrics   *metrics.WSMetrics
}

// New creates a new client instance and automatically attempts to
// connect to the relay in the background.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("relay URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("relay URL must use ws or wss scheme")
	}

	client := &Client{
		m:         &sync.Mutex{},
		logger:    cfg.Logger,
		url:       cfg.URL,
		done:      make(chan bool),
		onConnect: cfg.OnConnect,
		onMessage: cfg.OnMessage,
		metrics:   cfg.Metrics,
	}
	go client.handleReconnect()
	return client, nil
}

// handleReconnect dials the relay and, when the connection drops,
// continuously attempts to reconnect.
func (client *Client) handleReconnect() {
	for {
		client.m.Lock()
		client.isReady = false
		client.m.Unlock()

		client.logger.Info("attempting to connect", "url", client.url)

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, _, err := websocket.DefaultDialer.Dial(client.url, nil)
		if err != nil {
			if client.metrics != nil {
				client.metrics.ConnectionStatus.Set(0)
			}
			client.logger.Error("failed to connect. Retrying...", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		client.changeConnection(conn)
		client.logger.Info("connected")

		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(1)
		}

		if client.onConnect != nil {
			client.onConnect()
		}

		if done := client.readLoop(conn); done {
			return
		}
	}
}

// changeConnection swaps in a freshly dialed connection and marks the
// client ready for sends.
func (client *Client) changeConnection(conn *websocket.Conn) {
	client.m.Lock()
	client.conn = conn
	client.isReady = true
	client.m.Unlock()
}

// readLoop pumps messages from the relay into the OnMessage callback
// until the connection fails. It reports whether the client is shutting
// down for good.
func (client *Client) readLoop(conn *websocket.Conn) bool {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			client.m.Lock()
			client.isReady = false
			client.m.Unlock()

			if client.metrics != nil {
				client.metrics.ConnectionStatus.Set(0)
			}

			select {
			case <-client.done:
				return true
			default:
			}

			client.logger.Error("connection lost, reconnecting...", "error", err)
			return false
		}

		if client.metrics != nil {
			client.metrics.MessagesReceived.Inc()
		}

		if client.onMessage != nil {
			client.onMessage(data)
		}
	}
}

// Send writes a single text message to the relay. It returns an error
// when the client is not currently connected; callers decide whether to
// drop or retry, matching the lossy firmware behavior.
func (client *Client) Send(data []byte) error {
	var timer *prometheus.Timer
	if client.metrics != nil {
		timer = prometheus.NewTimer(client.metrics.SendDuration)
		defer timer.ObserveDuration()
	}

	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		if client.metrics != nil {
			client.metrics.SendFailures.WithLabelValues("not_connected").Inc()
		}
		return errNotConnected
	}

	if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if client.metrics != nil {
			client.metrics.SendFailures.WithLabelValues("write_error").Inc()
		}
		return err
	}

	if client.metrics != nil {
		client.metrics.MessagesSent.Inc()
	}
	return nil
}

// Connected reports whether the client currently holds a live connection.
func (client *Client) Connected() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

// Close will cleanly shut down the connection and stop the redial loop.
func (client *Client) Close() error {
	client.m.Lock()
	defer client.m.Unlock()

	if client.closed {
		return errAlreadyClosed
	}
	client.closed = true
	close(client.done)

	if client.conn != nil {
		// Best effort close frame so the relay marks the device offline
		// promptly instead of waiting for the read deadline.
		deadline := time.Now().Add(writeWait)
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err := client.conn.Close(); err != nil {
			return err
		}
	}

	client.isReady = false

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	return nil
}
