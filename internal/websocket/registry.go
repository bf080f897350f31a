package websocket

import "sync"

// StreamRegistry maps device IDs to the connection IDs streaming them.
// Entries are pruned when their last subscriber leaves; RemoveConnection
// runs synchronously inside the disconnect handler so no connection ID
// outlives its connection.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]map[string]bool
}

// NewStreamRegistry creates an empty registry
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[string]map[string]bool),
	}
}

// Subscribe registers a connection under a device
func (r *StreamRegistry) Subscribe(deviceID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.streams[deviceID]
	if !ok {
		subs = make(map[string]bool)
		r.streams[deviceID] = subs
	}
	subs[connectionID] = true
}

// Unsubscribe removes a connection from a device, pruning empty entries.
// Unsubscribing an absent pair is a no-op.
func (r *StreamRegistry) Unsubscribe(deviceID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.streams[deviceID]
	if !ok {
		return
	}
	delete(subs, connectionID)
	if len(subs) == 0 {
		delete(r.streams, deviceID)
	}
}

// RemoveConnection removes a connection from every device entry
func (r *StreamRegistry) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for deviceID, subs := range r.streams {
		if subs[connectionID] {
			delete(subs, connectionID)
			if len(subs) == 0 {
				delete(r.streams, deviceID)
			}
		}
	}
}

// Subscribers returns the connection IDs streaming a device
func (r *StreamRegistry) Subscribers(deviceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.streams[deviceID]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// IsSubscribed reports whether a connection streams a device
func (r *StreamRegistry) IsSubscribed(deviceID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[deviceID][connectionID]
}

// ConnectionCount returns how many device entries reference a connection
func (r *StreamRegistry) ConnectionCount(connectionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, subs := range r.streams {
		if subs[connectionID] {
			count++
		}
	}
	return count
}

// Size returns the total number of active subscriptions
func (r *StreamRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, subs := range r.streams {
		total += len(subs)
	}
	return total
}
