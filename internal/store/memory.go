package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store used for development and tests. State is
// lost on restart, so production deployments run the postgres driver.
type Memory struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Ensure Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Read returns the current snapshot, or a default snapshot stamped with
// the current time when nothing has been written yet.
func (s *Memory) Read(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now().UTC()
	}
	return snap, nil
}

// Upsert merges the non-nil patch fields and stamps LastUpdated.
func (s *Memory) Upsert(ctx context.Context, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.MotorA != nil {
		s.snap.MotorA = *p.MotorA
	}
	if p.MotorB != nil {
		s.snap.MotorB = *p.MotorB
	}
	if p.Voltage != nil {
		s.snap.Voltage = *p.Voltage
	}
	if p.Current != nil {
		s.snap.Current = *p.Current
	}
	if p.Power != nil {
		s.snap.Power = *p.Power
	}
	s.snap.LastUpdated = time.Now().UTC()
	return nil
}

// Ping always succeeds.
func (s *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Memory) Close() error {
	return nil
}
