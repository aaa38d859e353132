// Package store persists the relay's last known motor state so that a
// restart, a reconnecting device, or a freshly opened dashboard all see
// the same snapshot.
package store

import (
	"context"
	"time"
)

// Snapshot is the last known device state as the relay remembers it.
type Snapshot struct {
	LastUpdated time.Time
	Voltage     float64
	Current     float64
	Power       float64
	MotorA      bool
	MotorB      bool
}

// Patch is a partial state update. Nil fields keep their stored value,
// which lets a motor command touch one switch without clobbering the
// telemetry written by the last device update.
type Patch struct {
	MotorA  *bool
	MotorB  *bool
	Voltage *float64
	Current *float64
	Power   *float64
}

// Store is the persistence boundary for motor state.
type Store interface {
	// Read returns the last known snapshot. A store that has never been
	// written returns a default snapshot stamped with the current time.
	Read(ctx context.Context) (Snapshot, error)

	// Upsert merges the non-nil patch fields into the stored state and
	// stamps LastUpdated with the current server time.
	Upsert(ctx context.Context, p Patch) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
