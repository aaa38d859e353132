package relay

import "sync"

// Registry tracks the single device connection and the set of observer
// connections. The hub goroutine is the only mutator; REST handlers
// read concurrently, so access is guarded by a read/write lock.
type Registry struct {
	mu        sync.RWMutex
	device    *Client
	observers map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[*Client]struct{}),
	}
}

// SetDevice installs c in the device slot and returns the connection it
// replaced, or nil. Re-registering the current device replaces nothing.
func (r *Registry) SetDevice(c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.device
	if prev == c {
		return nil
	}
	r.device = c
	return prev
}

// ClearDevice empties the device slot if c still holds it. A stale
// connection that was already replaced clears nothing.
func (r *Registry) ClearDevice(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device != c {
		return false
	}
	r.device = nil
	return true
}

// Device returns the active device connection, or nil.
func (r *Registry) Device() *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device
}

// DeviceConnected reports whether a device currently holds the slot.
func (r *Registry) DeviceConnected() bool {
	return r.Device() != nil
}

// AddObserver adds c to the observer set. Adding twice is a no-op.
func (r *Registry) AddObserver(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[c] = struct{}{}
}

// RemoveObserver removes c from the observer set. Removing a
// non-member is a no-op.
func (r *Registry) RemoveObserver(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, c)
}

// Observers returns a snapshot of the observer set so a broadcast can
// iterate while registrations change underneath it.
func (r *Registry) Observers() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Client, 0, len(r.observers))
	for c := range r.observers {
		list = append(list, c)
	}
	return list
}

// ObserverCount returns the number of registered observers.
func (r *Registry) ObserverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}
