package interfaces

import "classpulse/pkg/types"

// Notifier fans state changes out to tutors and control messages in to
// a single learner connection.
type Notifier interface {
	// NotifyTutors delivers to every live tutor connection, continuing
	// past individual delivery failures.
	NotifyTutors(msg types.PushMessage)

	// NotifyLearner delivers to the live learner connection for userID,
	// or returns ErrTargetOffline from the implementing package if none
	// is registered. Commands are fire-and-forget: never queued, never
	// retried.
	NotifyLearner(userID string, msg types.PushMessage) error
}
