package relay

import (
	"encoding/json"

	"github.com/motorlink/motorlink/pkg/protocol"
)

// broadcast delivers a frame to every registered observer, best
// effort. An observer whose buffer is full is dropped so one stalled
// dashboard cannot hold up the rest; delivery to the remaining
// observers continues.
func (h *Hub) broadcast(data []byte) {
	observers := h.registry.Observers()

	delivered := 0
	for _, c := range observers {
		if err := c.trySend(data); err != nil {
			h.logger.Warn("observer send buffer full, dropping connection",
				"remote_addr", c.RemoteAddr(),
			)
			h.dropClient(c)
			continue
		}
		delivered++
	}

	if h.metrics != nil {
		h.metrics.BroadcastRecipients.Observe(float64(delivered))
	}
}

// broadcastDeviceStatus tells every observer whether the device is
// connected.
func (h *Hub) broadcastDeviceStatus(connected bool) {
	data, err := json.Marshal(protocol.DeviceStatus{
		Type:      protocol.TypeDeviceStatus,
		Connected: connected,
	})
	if err != nil {
		h.logger.Error("failed to marshal device status", "error", err)
		return
	}
	h.broadcast(data)
}

// sendJSON serializes v and queues it for a single peer, dropping the
// peer when its buffer is full.
func (h *Hub) sendJSON(c *Client, v any) {
	if c.gone {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal frame", "error", err)
		return
	}

	if err := c.trySend(data); err != nil {
		h.logger.Warn("send buffer full, dropping connection",
			"role", c.role.String(),
			"remote_addr", c.RemoteAddr(),
		)
		h.dropClient(c)
	}
}

// sendError queues an error frame for the offending peer only.
func (h *Hub) sendError(c *Client, message string) {
	h.sendJSON(c, protocol.ErrorMessage{
		Type:    protocol.TypeError,
		Message: message,
	})
}
