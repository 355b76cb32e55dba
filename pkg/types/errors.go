package types

import "errors"

// Validation errors shared across components. All are rejected
// synchronously with no state change and no broadcast.
var (
	ErrMissingUserID    = errors.New("user_id is required")
	ErrInvalidUserID    = errors.New("user ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrMissingEventType = errors.New("event_type is required")
	ErrInvalidMetadata  = errors.New("metadata keys must be 1-100 characters")
	ErrInvalidAction    = errors.New("action_type must be switch_mode")
	ErrInvalidMode      = errors.New("new_mode must be one of video, text, audio")
)
