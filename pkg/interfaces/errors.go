package interfaces

import "errors"

// Errors shared across component boundaries.
var (
	// ErrStoreUnavailable is surfaced after bounded retries against the
	// backing medium have been exhausted. Telemetry loss is acceptable;
	// this must never take the coordinator down.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrUserNotFound is returned by directory lookups for unknown users.
	ErrUserNotFound = errors.New("user not found")
)
