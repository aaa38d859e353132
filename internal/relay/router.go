package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/motorlink/motorlink/internal/store"
	"github.com/motorlink/motorlink/pkg/protocol"
)

// routeFrame classifies an inbound frame by its declared type and
// dispatches it. Malformed and unrecognized frames are logged and
// dropped without a reply; the connection stays open.
func (h *Hub) routeFrame(c *Client, data []byte) {
	// A queued frame can arrive after its sender's detach has been
	// processed. The send channel is closed at that point; routing the
	// frame would put the dead connection back in the registry.
	if c.gone {
		return
	}

	typ, err := protocol.PeekType(data)
	if err != nil {
		h.dropFrame(c, "", "malformed")
		return
	}

	switch typ {
	case protocol.TypeDeviceRegister, protocol.TypeESP32Register:
		h.handleDeviceRegister(c, typ, data)
	case protocol.TypeObserverRegister, protocol.TypeWebRegister:
		h.handleObserverRegister(c, typ)
	case protocol.TypeStateUpdate:
		h.handleStateUpdate(c, data)
	case protocol.TypeMotorControl:
		h.handleMotorControl(c, data)
	default:
		h.dropFrame(c, typ, "unknown_type")
	}
}

// handleDeviceRegister fixes the sender's role as device, installs it
// in the device slot, and replies with the persisted motor flags.
func (h *Hub) handleDeviceRegister(c *Client, typ protocol.MessageType, data []byte) {
	if c.role == RoleObserver {
		h.dropFrame(c, typ, "out_of_role")
		return
	}

	var reg protocol.DeviceRegister
	if err := json.Unmarshal(data, &reg); err != nil {
		h.dropFrame(c, typ, "malformed")
		return
	}

	if c.role == RoleUnregistered {
		c.role = RoleDevice
		h.countRegistration(RoleDevice)
	}
	c.deviceID = reg.ID

	if evicted := h.registry.SetDevice(c); evicted != nil {
		// The old socket stays open but is orphaned from routing; its
		// frames are dropped until it disconnects on its own.
		h.logger.Warn("device slot taken over",
			"old_remote_addr", evicted.RemoteAddr(),
			"new_remote_addr", c.RemoteAddr(),
		)
	}

	h.logger.Info("device registered",
		"device_id", c.deviceID,
		"remote_addr", c.RemoteAddr(),
	)

	snap := h.readSnapshot()
	h.sendJSON(c, protocol.InitialState{
		Type:   protocol.TypeInitialState,
		MotorA: snap.MotorA,
		MotorB: snap.MotorB,
	})
	h.broadcastDeviceStatus(true)

	h.countRouted(typ, "ok")
}

// handleObserverRegister fixes the sender's role as observer, adds it
// to the observer set, and replies with the full snapshot followed by
// the current device status.
func (h *Hub) handleObserverRegister(c *Client, typ protocol.MessageType) {
	if c.role == RoleDevice {
		h.dropFrame(c, typ, "out_of_role")
		return
	}

	if c.role == RoleUnregistered {
		c.role = RoleObserver
		h.countRegistration(RoleObserver)
	}
	h.registry.AddObserver(c)

	h.logger.Info("observer registered",
		"remote_addr", c.RemoteAddr(),
		"observers", h.registry.ObserverCount(),
	)

	snap := h.readSnapshot()
	h.sendJSON(c, protocol.StateUpdate{
		Type:        protocol.TypeStateUpdate,
		MotorA:      snap.MotorA,
		MotorB:      snap.MotorB,
		Voltage:     snap.Voltage,
		Current:     snap.Current,
		Power:       snap.Power,
		LastUpdated: snap.LastUpdated,
	})
	h.sendJSON(c, protocol.DeviceStatus{
		Type:      protocol.TypeDeviceStatus,
		Connected: h.registry.DeviceConnected(),
	})

	h.countRouted(typ, "ok")
}

// handleStateUpdate persists a device telemetry push and fans it out
// to every observer with a server-side timestamp.
func (h *Hub) handleStateUpdate(c *Client, data []byte) {
	if c.role != RoleDevice {
		h.dropFrame(c, protocol.TypeStateUpdate, "out_of_role")
		return
	}
	if h.registry.Device() != c {
		// A replaced device keeps pushing until it notices; nothing it
		// says is routed anymore.
		h.dropFrame(c, protocol.TypeStateUpdate, "orphaned")
		return
	}

	var update protocol.StateUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		h.dropFrame(c, protocol.TypeStateUpdate, "malformed")
		return
	}

	status := "ok"

	// A storage failure must not hold back the fan-out; live telemetry
	// beats durability here.
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	err := h.store.Upsert(ctx, store.Patch{
		MotorA:  &update.MotorA,
		MotorB:  &update.MotorB,
		Voltage: &update.Voltage,
		Current: &update.Current,
		Power:   &update.Power,
	})
	cancel()
	if err != nil {
		h.logger.Error("failed to persist state update", "error", err)
		status = "error"
	}

	update.Type = protocol.TypeStateUpdate
	update.LastUpdated = time.Now().UTC()

	out, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("failed to marshal state update", "error", err)
		return
	}

	h.broadcast(out)

	if h.exporter != nil {
		h.exporter.Publish(out)
	}

	h.countRouted(protocol.TypeStateUpdate, status)
}

// handleMotorControl translates an observer's switch intent into a
// device unicast. With no device connected the observer alone gets an
// error frame; nothing is queued for later.
func (h *Hub) handleMotorControl(c *Client, data []byte) {
	if c.role != RoleObserver {
		h.dropFrame(c, protocol.TypeMotorControl, "out_of_role")
		return
	}

	var ctrl protocol.MotorControl
	if err := json.Unmarshal(data, &ctrl); err != nil {
		h.dropFrame(c, protocol.TypeMotorControl, "malformed")
		return
	}
	if !protocol.ValidMotor(ctrl.Motor) {
		h.dropFrame(c, protocol.TypeMotorControl, "malformed")
		return
	}

	err := h.deliverCommand("ws", ctrl.Motor, ctrl.State)
	if errors.Is(err, ErrDeviceNotConnected) {
		h.sendError(c, "device not connected")
		h.countRouted(protocol.TypeMotorControl, "error")
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	h.countRouted(protocol.TypeMotorControl, status)
}

// deliverCommand unicasts a motor command to the device and persists
// the commanded state. The persist still happens when the unicast
// fails: the device resyncs through initial_state on its next
// registration.
func (h *Hub) deliverCommand(source, motor string, state bool) error {
	device := h.registry.Device()
	if device == nil {
		h.countCommand(source, "no_device")
		return ErrDeviceNotConnected
	}

	data, err := json.Marshal(protocol.MotorCommand{
		Type:  protocol.TypeMotorCommand,
		Motor: motor,
		State: state,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal motor command: %w", err)
	}

	sendErr := device.trySend(data)
	if sendErr != nil {
		h.logger.Warn("device send buffer full, dropping device",
			"remote_addr", device.RemoteAddr(),
		)
		h.dropClient(device)
		h.countCommand(source, "send_error")
	} else {
		h.countCommand(source, "success")
	}

	h.persistMotor(motor, state)

	if sendErr != nil {
		return fmt.Errorf("failed to deliver motor command: %w", sendErr)
	}
	return nil
}

// persistMotor upserts a single motor flag. Failures are logged; the
// command was already sent and the device remains the source of truth.
func (h *Hub) persistMotor(motor string, state bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	patch := store.Patch{}
	switch motor {
	case protocol.MotorA:
		patch.MotorA = &state
	case protocol.MotorB:
		patch.MotorB = &state
	}

	if err := h.store.Upsert(ctx, patch); err != nil {
		h.logger.Error("failed to persist motor command", "motor", motor, "error", err)
	}
}

// readSnapshot reads the persisted state, falling back to defaults so
// a storage outage never blocks a registration reply.
func (h *Hub) readSnapshot() store.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	snap, err := h.store.Read(ctx)
	if err != nil {
		h.logger.Error("failed to read stored state, serving defaults", "error", err)
		return store.Snapshot{LastUpdated: time.Now().UTC()}
	}
	return snap
}

// dropFrame logs a dropped frame. No reply is sent and the connection
// stays open.
func (h *Hub) dropFrame(c *Client, typ protocol.MessageType, reason string) {
	h.logger.Warn("dropping frame",
		"type", string(typ),
		"reason", reason,
		"role", c.role.String(),
		"remote_addr", c.RemoteAddr(),
	)

	if h.metrics != nil {
		h.metrics.FramesDropped.WithLabelValues(reason).Inc()
		if typ != "" {
			h.metrics.FramesRouted.WithLabelValues(string(typ), "dropped").Inc()
		}
	}
}

func (h *Hub) countRouted(typ protocol.MessageType, status string) {
	if h.metrics != nil {
		h.metrics.FramesRouted.WithLabelValues(string(typ), status).Inc()
	}
}

func (h *Hub) countCommand(source, status string) {
	if h.metrics != nil {
		h.metrics.CommandsDelivered.WithLabelValues(source, status).Inc()
	}
}

// countRegistration moves a connection from the unregistered gauge to
// its registered role.
func (h *Hub) countRegistration(role Role) {
	if h.metrics == nil {
		return
	}
	h.metrics.ConnectionsActive.WithLabelValues(RoleUnregistered.String()).Dec()
	h.metrics.ConnectionsActive.WithLabelValues(role.String()).Inc()
	h.metrics.ConnectionsTotal.WithLabelValues(role.String()).Inc()
}
