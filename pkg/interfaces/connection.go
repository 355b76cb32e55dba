package interfaces

import "classpulse/pkg/types"

// Connection is one live bidirectional channel for a (user, role) pair.
// Sends are serialized by the implementation; for a single connection,
// messages arrive in Send order.
type Connection interface {
	// Send queues a push message for delivery. It must not block the
	// caller beyond its bounded buffer policy; on a full buffer the
	// message is dropped and an error returned.
	Send(msg types.PushMessage) error

	Close() error

	UserID() string
	Role() types.Role
	Email() string
}
