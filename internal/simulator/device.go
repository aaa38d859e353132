// Package simulator runs a software stand-in for the motor controller
// firmware: it connects to the relay as the device, restores its motor
// flags from the stored snapshot, applies incoming motor commands, and
// pushes electrical telemetry at a fixed interval.
package simulator

import (
	"math"
	"math/rand"
	"sync"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/motorlink/motorlink/pkg/protocol"
)

const (
	// Supply voltage with both motors off.
	baseVoltage = 12.6

	// Supply sag per running motor.
	sagPerMotor = 0.35

	// Controller draw with both motors off.
	idleCurrent = 0.05

	// Nominal draw per running motor.
	motorCurrent = 1.2
)

// Identity is the fabricated hardware identity the simulator registers
// and logs itself under.
type Identity struct {
	DeviceID   string `fake:"{uuid}"`
	MacAddress string `fake:"{macaddress}"`
	Firmware   string `fake:"{appversion}"`
}

// NewIdentity fabricates a random device identity.
func NewIdentity() *Identity {
	var identity Identity
	err := gofakeit.Struct(&identity)
	if err != nil {
		return nil
	}
	return &identity
}

// Device holds the simulated controller state. Motor flags are written
// by the relay message callback and read by the telemetry ticker, so
// access is serialized.
type Device struct {
	mu     sync.Mutex
	motorA bool
	motorB bool
}

// NewDevice creates a simulated controller with both motors off.
func NewDevice() *Device {
	return &Device{}
}

// Apply switches one motor and reports whether the motor id was known.
func (d *Device) Apply(motor string, state bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch motor {
	case protocol.MotorA:
		d.motorA = state
	case protocol.MotorB:
		d.motorB = state
	default:
		return false
	}
	return true
}

// Restore overwrites both motor flags from a stored snapshot.
func (d *Device) Restore(motorA, motorB bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.motorA = motorA
	d.motorB = motorB
}

// Motors returns the current motor flags.
func (d *Device) Motors() (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.motorA, d.motorB
}

// RunningCount returns how many motors are switched on.
func (d *Device) RunningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	if d.motorA {
		count++
	}
	if d.motorB {
		count++
	}
	return count
}

// Telemetry produces one electrical reading consistent with the motor
// flags: the supply sags and the current rises with every running
// motor, plus a little measurement noise.
func (d *Device) Telemetry() protocol.StateUpdate {
	motorA, motorB := d.Motors()

	running := 0
	if motorA {
		running++
	}
	if motorB {
		running++
	}

	// Sensor noise: ±50mV on the supply, ±5% on the current draw
	voltage := baseVoltage - sagPerMotor*float64(running) + (rand.Float64()-0.5)*0.1
	current := idleCurrent + motorCurrent*float64(running)*(1+(rand.Float64()-0.5)*0.1)
	power := voltage * current

	return protocol.StateUpdate{
		Type:    protocol.TypeStateUpdate,
		MotorA:  motorA,
		MotorB:  motorB,
		Voltage: math.Round(voltage*100) / 100, // 2 decimal places
		Current: math.Round(current*100) / 100,
		Power:   math.Round(power*100) / 100,
	}
}
