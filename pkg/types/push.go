package types

// PushType tags a server-initiated live-channel message. The four kinds
// form a closed set; construct messages through the typed constructors
// below so handling can switch exhaustively on Type.
type PushType string

const (
	PushModeSwitch  PushType = "MODE_SWITCH"
	PushAlert       PushType = "ALERT"
	PushActivity    PushType = "ACTIVITY"
	PushStudentList PushType = "STUDENT_LIST"
)

// PushMessage is the tagged union sent over a live channel. Which fields
// are populated depends on Type:
//
//	MODE_SWITCH  -> NewMode            (to learners)
//	ALERT        -> Data (Alert)       (to tutors)
//	ACTIVITY     -> UserID, Event      (to tutors)
//	STUDENT_LIST -> Data ([]LearnerState) (to tutors)
type PushMessage struct {
	Type    PushType `json:"type"`
	NewMode Mode     `json:"new_mode,omitempty"`
	UserID  string   `json:"user_id,omitempty"`
	Event   string   `json:"event,omitempty"`
	Data    any      `json:"data,omitempty"`
}

// ModeSwitchMessage instructs a learner client to change medium.
func ModeSwitchMessage(mode Mode) PushMessage {
	return PushMessage{Type: PushModeSwitch, NewMode: mode}
}

// AlertMessage surfaces a rule-derived alert to tutors.
func AlertMessage(alert Alert) PushMessage {
	return PushMessage{Type: PushAlert, Data: alert}
}

// ActivityMessage mirrors a single telemetry event to tutors.
func ActivityMessage(userID, eventType string) PushMessage {
	return PushMessage{Type: PushActivity, UserID: userID, Event: eventType}
}

// StudentListMessage carries a full learner-state snapshot to tutors.
func StudentListMessage(states []LearnerState) PushMessage {
	return PushMessage{Type: PushStudentList, Data: states}
}
