package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 2048

	// Outbound frames queued per peer before it counts as stalled.
	sendBufferSize = 256
)

var errSendBufferFull = errors.New("send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,

	// Dashboards are served from arbitrary hosts on the bench network.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Role classifies a connection once it has registered.
type Role int

const (
	RoleUnregistered Role = iota
	RoleDevice
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "device"
	case RoleObserver:
		return "observer"
	default:
		return "unregistered"
	}
}

// Client is one websocket peer. The read and write pumps run in their
// own goroutines; role, registry membership, and teardown are owned by
// the hub goroutine.
type Client struct {
	hub    *Hub
	logger *slog.Logger
	conn   *websocket.Conn

	// Buffered channel of outbound frames. Closed by the hub when the
	// client is dropped, which makes the write pump send a close frame
	// and exit.
	send chan []byte

	// Owned by the hub goroutine.
	role     Role
	deviceID string
	gone     bool
}

// NewClient wraps an accepted websocket connection. The pumps are not
// started here; ServeWS does that after the hub has taken the client.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		logger: logger,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// RemoteAddr returns the peer address for logging.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// trySend queues a frame without blocking. A full buffer means the
// peer has stopped draining its socket; the hub drops such peers.
func (c *Client) trySend(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// readPump forwards inbound frames to the hub until the connection
// fails, then detaches the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.detachClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Warn("websocket read failed", "remote_addr", c.RemoteAddr(), "error", err)
			}
			return
		}
		c.hub.submitFrame(c, data)
	}
}

// writePump drains the send channel to the peer and keeps the
// connection alive with pings. One frame per websocket message; peers
// parse each as a standalone JSON document.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// The hub dropped this client.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and hands
// it to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(h, conn, h.logger)
	if !h.attachClient(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
