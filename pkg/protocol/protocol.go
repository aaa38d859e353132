// Package protocol defines the JSON wire protocol spoken over websocket
// between the relay, the embedded motor controller, and web observers.
//
// Every frame is a single JSON text message carrying a flat envelope:
// a "type" field naming the message, with the remaining fields at the
// top level. PeekType sniffs the type so the router can dispatch before
// committing to a full decode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies a wire frame.
type MessageType string

const (
	// TypeDeviceRegister announces the embedded controller. TypeESP32Register
	// is the name used by older firmware; both are accepted.
	TypeDeviceRegister MessageType = "device_register"
	TypeESP32Register  MessageType = "esp32_register"

	// TypeObserverRegister announces a web client. TypeWebRegister is the
	// legacy alias.
	TypeObserverRegister MessageType = "observer_register"
	TypeWebRegister      MessageType = "web_register"

	// TypeInitialState is the relay's reply to a device registration.
	TypeInitialState MessageType = "initial_state"

	// TypeStateUpdate carries the full motor/telemetry snapshot, both
	// device to relay and relay to observers.
	TypeStateUpdate MessageType = "state_update"

	// TypeMotorControl is an observer's intent to switch a motor.
	TypeMotorControl MessageType = "motor_control"

	// TypeMotorCommand is the relay's unicast of that intent to the device.
	TypeMotorCommand MessageType = "motor_command"

	// TypeDeviceStatus tells observers whether a device is connected.
	TypeDeviceStatus MessageType = "device_status"

	// TypeError is a relay-to-observer failure notice.
	TypeError MessageType = "error"
)

// Motor identifiers.
const (
	MotorA = "A"
	MotorB = "B"
)

// ErrMissingType reports a frame without a usable "type" field.
var ErrMissingType = errors.New("frame has no type field")

// ValidMotor reports whether id names a known motor.
func ValidMotor(id string) bool {
	return id == MotorA || id == MotorB
}

// Envelope is the minimal frame header used for dispatch.
type Envelope struct {
	Type MessageType `json:"type"`
}

// PeekType extracts the message type from a raw frame without decoding
// the rest of the payload.
func PeekType(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("failed to parse frame envelope: %w", err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// DeviceRegister is sent by the embedded controller after connecting.
type DeviceRegister struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// ObserverRegister is sent by a web client after connecting.
type ObserverRegister struct {
	Type MessageType `json:"type"`
}

// InitialState restores the device's motor flags after (re)registration.
// Telemetry is omitted deliberately: the device is its only source.
type InitialState struct {
	Type   MessageType `json:"type"`
	MotorA bool        `json:"motorA"`
	MotorB bool        `json:"motorB"`
}

// StateUpdate is the full snapshot. Devices omit lastUpdated (and any
// telemetry field they cannot measure; absent fields decode as zero);
// the relay stamps its own time before fanning out to observers.
type StateUpdate struct {
	Type        MessageType `json:"type"`
	MotorA      bool        `json:"motorA"`
	MotorB      bool        `json:"motorB"`
	Voltage     float64     `json:"voltage"`
	Current     float64     `json:"current"`
	Power       float64     `json:"power"`
	LastUpdated time.Time   `json:"lastUpdated,omitzero"`
}

// MotorControl is an observer's switch request.
type MotorControl struct {
	Type  MessageType `json:"type"`
	Motor string      `json:"motor"`
	State bool        `json:"state"`
}

// MotorCommand is the relay's unicast to the device.
type MotorCommand struct {
	Type  MessageType `json:"type"`
	Motor string      `json:"motor"`
	State bool        `json:"state"`
}

// DeviceStatus reports device liveness to observers.
type DeviceStatus struct {
	Type      MessageType `json:"type"`
	Connected bool        `json:"connected"`
}

// ErrorMessage carries a failure notice to the observer that caused it.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}
