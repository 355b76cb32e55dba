package types

import (
	"time"
)

// Role identifies which side of the tutoring relationship a user is on.
type Role string

const (
	RoleLearner Role = "learner"
	RoleTutor   Role = "tutor"
)

// Mode is the content medium a learner is currently presented.
type Mode string

const (
	ModeVideo Mode = "video"
	ModeText  Mode = "text"
	ModeAudio Mode = "audio"

	// DefaultMode applies until the first successful mode switch.
	DefaultMode = ModeVideo
)

// Status is a learner's liveness as tracked by the connection registry.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Telemetry event types observed from learner clients. The metadata
// schema is event-type-specific and not validated globally.
const (
	EventLogin     = "login"
	EventLogout    = "logout"
	EventPlay      = "play"
	EventPause     = "pause"
	EventScroll    = "scroll"
	EventIdle      = "idle"
	EventVideoLoad = "video_load"
	EventAudioPlay = "audio_play"

	// EventModeSwitch is appended server-side as the audit record of a
	// dispatched control command; clients never submit it.
	EventModeSwitch = "mode_switch"
)

// ActionSwitchMode is the only control action type.
const ActionSwitchMode = "switch_mode"

// User is a stable identity for a login session. ID is derived
// deterministically from the email (see DeriveUserID) so reconnection
// is idempotent.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// LearnerState is the authoritative view of a learner. Mode changes only
// through a successful control command; Status changes only through a
// connection transition. Telemetry never mutates it directly.
type LearnerState struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Mode   Mode   `json:"mode"`
	Status Status `json:"status"`
}

// Event is one append-only telemetry or control record. Once written it
// is immutable.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Alert is a rule-derived notice about a learner, produced only by the
// alert engine.
type Alert struct {
	AlertType     string    `json:"alert_type"`
	Message       string    `json:"message"`
	SubjectUserID string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// ControlCommand is a tutor-issued instruction to change a learner's
// mode. It is transient: only its effect is persisted, as a mode_switch
// event.
type ControlCommand struct {
	TutorID    string `json:"tutor_id"`
	LearnerID  string `json:"learner_id"`
	ActionType string `json:"action_type"`
	NewMode    Mode   `json:"new_mode"`
}

// Activity is the reduced event shape kept in the live activity feed.
type Activity struct {
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`
}
