package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// EventFilter narrows an event query. Zero values match everything.
type EventFilter struct {
	UserID    string
	EventType string
}

// EventStore is the append-only record of every telemetry and control
// event, plus the durable side tables the coordinator needs (alerts for
// the live feed's backing, users for idempotent reconnection).
//
// Appends never update or delete. Implementations must retry transient
// write failures with bounded backoff before surfacing
// ErrStoreUnavailable; callers must never block indefinitely.
type EventStore interface {
	// AppendEvent assigns the event a server-side ID and timestamp and
	// appends it durably.
	AppendEvent(ctx context.Context, event *types.Event) error

	// QueryEvents returns at most limit events, newest first.
	QueryEvents(ctx context.Context, filter EventFilter, limit int) ([]types.Event, error)

	// Subscribe returns a feed of events published after each successful
	// append, in append order. The cancel function releases the
	// subscription. A slow subscriber loses its own newest entries; it
	// never blocks the writer or other subscribers.
	Subscribe() (<-chan types.Event, func())

	// AppendAlert persists an engine-produced alert.
	AppendAlert(ctx context.Context, alert types.Alert) error

	// QueryAlerts returns at most limit alerts, newest first.
	QueryAlerts(ctx context.Context, limit int) ([]types.Alert, error)

	// UpsertUser inserts or refreshes a user directory row.
	UpsertUser(ctx context.Context, user types.User) error

	// GetUserByEmail resolves a directory row, or ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)

	// ListUsersByRole returns all directory rows with the given role.
	ListUsersByRole(ctx context.Context, role types.Role) ([]types.User, error)

	// HealthCheck validates the backing medium is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
