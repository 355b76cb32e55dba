package types

import (
	"regexp"
	"strings"
)

// Compiled once at package initialization; validation runs on every
// telemetry submission.
var (
	userIDRegex       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	nonAlphanumRegex  = regexp.MustCompile(`[^a-z0-9]+`)
	maxMetadataKeyLen = 100
)

// DeriveUserID maps an email to a stable user ID: lower-cased with every
// non-alphanumeric character stripped. The same email always yields the
// same ID, which makes reconnection idempotent.
func DeriveUserID(email string) string {
	return nonAlphanumRegex.ReplaceAllString(strings.ToLower(email), "")
}

// IsValidUserID checks the format used for registry keys and database
// rows: 1-64 characters, alphanumeric plus underscore/hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole reports whether role is one of the two known roles.
func IsValidRole(role Role) bool {
	return role == RoleLearner || role == RoleTutor
}

// IsValidMode reports whether mode is one of the three content media.
func IsValidMode(mode Mode) bool {
	switch mode {
	case ModeVideo, ModeText, ModeAudio:
		return true
	default:
		return false
	}
}

// Validate checks an event before it enters the store. Metadata is
// opaque beyond being structurally well-formed, so only envelope fields
// are checked here.
func (e *Event) Validate() error {
	if e.UserID == "" {
		return ErrMissingUserID
	}
	if !IsValidUserID(e.UserID) {
		return ErrInvalidUserID
	}
	if e.EventType == "" {
		return ErrMissingEventType
	}
	for k := range e.Metadata {
		if len(k) == 0 || len(k) > maxMetadataKeyLen {
			return ErrInvalidMetadata
		}
	}
	return nil
}

// Validate checks a control command's envelope. Target liveness is the
// coordinator's concern, not the command's.
func (c *ControlCommand) Validate() error {
	if !IsValidUserID(c.TutorID) || !IsValidUserID(c.LearnerID) {
		return ErrInvalidUserID
	}
	if c.ActionType != ActionSwitchMode {
		return ErrInvalidAction
	}
	if !IsValidMode(c.NewMode) {
		return ErrInvalidMode
	}
	return nil
}
