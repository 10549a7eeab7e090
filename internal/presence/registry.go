// Package presence tracks which users currently hold live realtime
// connections. The registry is the single piece of state shared across all
// connection handlers; every operation is atomic with respect to every other.
package presence

import "sync"

// ConnID is the opaque handle for one live client connection.
type ConnID string

// Registry maps live connection handles to the user identity they announced.
// It holds state only; delivery to a connection is the gateway's concern.
type Registry struct {
	mu     sync.RWMutex
	byConn map[ConnID]string
	byUser map[string]map[ConnID]struct{}
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[ConnID]string),
		byUser: make(map[string]map[ConnID]struct{}),
	}
}

// Register associates a connection with a user. Registering the same
// connection twice is idempotent; re-registering under a different user moves
// the connection. Multiple simultaneous connections per user are valid.
func (r *Registry) Register(connID ConnID, userID string) {
	if connID == "" || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.byConn[connID]; ok {
		if previous == userID {
			return
		}
		r.removeLocked(connID, previous)
	}
	r.byConn[connID] = userID
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[ConnID]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
}

// Unregister removes the connection's association. Unknown connections are a
// no-op.
func (r *Registry) Unregister(connID ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[connID]
	if !ok {
		return
	}
	r.removeLocked(connID, userID)
}

// ConnectionsFor returns the handles currently registered to the user. An
// empty result is the normal "recipient offline" case, not a failure.
func (r *Registry) ConnectionsFor(userID string) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.byUser[userID]
	if len(entries) == 0 {
		return nil
	}
	handles := make([]ConnID, 0, len(entries))
	for connID := range entries {
		handles = append(handles, connID)
	}
	return handles
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) removeLocked(connID ConnID, userID string) {
	delete(r.byConn, connID)
	entries := r.byUser[userID]
	if entries != nil {
		delete(entries, connID)
		if len(entries) == 0 {
			delete(r.byUser, userID)
		}
	}
}
