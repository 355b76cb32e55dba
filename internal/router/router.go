package router

import (
	"errors"
	"log"

	"classpulse/internal/websocket"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Registry is the slice of the connection registry the router needs.
type Registry interface {
	Tutors() []*websocket.Connection
	Lookup(userID string, role types.Role) (*websocket.Connection, error)
}

// Router fans state changes out to every interested tutor connection and
// fans control messages in to the single learner connection they target.
// Per-connection ordering follows Notify* call order; across connections
// there is no ordering guarantee.
type Router struct {
	registry Registry

	// Bounded live feeds backing the snapshot queries.
	Alerts     *Feed[types.Alert]
	Activities *Feed[types.Activity]
}

var _ interfaces.Notifier = (*Router)(nil)

func NewRouter(registry Registry, alertCap, activityCap int) *Router {
	return &Router{
		registry:   registry,
		Alerts:     NewFeed[types.Alert](alertCap),
		Activities: NewFeed[types.Activity](activityCap),
	}
}

// NotifyTutors delivers to every live tutor connection. Delivery
// continues past individual failures; a slow tutor only loses its own
// messages.
func (r *Router) NotifyTutors(msg types.PushMessage) {
	for _, conn := range r.registry.Tutors() {
		if err := conn.Send(msg); err != nil {
			log.Printf("router: failed to deliver %s to tutor %s: %v", msg.Type, conn.UserID(), err)
		}
	}
}

// NotifyLearner delivers to the learner's live connection, or reports
// ErrTargetOffline. A slot mid-supersede counts as offline: the command
// is not queued for the incoming connection.
func (r *Router) NotifyLearner(userID string, msg types.PushMessage) error {
	conn, err := r.registry.Lookup(userID, types.RoleLearner)
	if err != nil {
		if errors.Is(err, websocket.ErrNotConnected) {
			return ErrTargetOffline
		}
		return err
	}
	return conn.Send(msg)
}
