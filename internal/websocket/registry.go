package websocket

import (
	"log"
	"sync"

	"classpulse/pkg/types"
)

// slot identifies one live-channel position. A user may hold a learner
// slot and a tutor slot independently, but never two of the same role.
type slot struct {
	UserID string
	Role   types.Role
}

// Registry tracks live connections per (user, role) slot. Registration
// and lookup are mutex-atomic: a concurrent lookup during a supersede
// observes either the old or the new connection, never a torn state.
type Registry struct {
	mu    sync.RWMutex
	slots map[slot]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[slot]*Connection),
	}
}

// Register installs conn in its slot. A prior connection in the same
// slot is superseded and closed; closing happens asynchronously so a
// blocked peer cannot stall registration. Supersession is normal
// lifecycle, not an error.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.Identified() {
		return ErrNoIdentity
	}

	key := slot{UserID: conn.UserID(), Role: conn.Role()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, exists := r.slots[key]; exists && prior != conn {
		go func() {
			if err := prior.Close(); err != nil {
				log.Printf("websocket: failed to close superseded connection for %s/%s: %v",
					key.UserID, key.Role, err)
			}
		}()
	}

	r.slots[key] = conn
	return nil
}

// Unregister removes conn from its slot. Idempotent, and it only removes
// the exact instance currently registered, so a superseded connection's
// deferred cleanup cannot evict its replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	key := slot{UserID: conn.UserID(), Role: conn.Role()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.slots[key]; exists && registered == conn {
		delete(r.slots, key)
	}
}

// Lookup returns the live connection for a slot, or ErrNotConnected.
func (r *Registry) Lookup(userID string, role types.Role) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.slots[slot{UserID: userID, Role: role}]
	if !exists {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// OnlineLearners returns a snapshot of all live learner connections.
func (r *Registry) OnlineLearners() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for key, conn := range r.slots {
		if key.Role == types.RoleLearner {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Tutors returns a snapshot of all live tutor connections.
func (r *Registry) Tutors() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for key, conn := range r.slots {
		if key.Role == types.RoleTutor {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Stats reports registry occupancy for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	learners, tutors := 0, 0
	for key := range r.slots {
		switch key.Role {
		case types.RoleLearner:
			learners++
		case types.RoleTutor:
			tutors++
		}
	}
	return map[string]int{
		"total_connections": len(r.slots),
		"online_learners":   learners,
		"online_tutors":     tutors,
	}
}
