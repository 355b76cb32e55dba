package alert

import (
	"fmt"
	"time"

	"classpulse/pkg/types"
)

// Rule is a pure predicate over one incoming event and the learner's
// trailing event window (oldest first, incoming event included last).
// Rules hold no state of their own; re-fire suppression is the engine's
// job, which keeps new rules a matter of appending to the rule list.
type Rule interface {
	Name() string
	Evaluate(event types.Event, window []types.Event) (types.Alert, bool)
}

// AlertTypeIdle through AlertTypeDisengaged are the built-in alert kinds.
const (
	AlertTypeIdle       = "idle"
	AlertTypePausing    = "excessive_pausing"
	AlertTypeDisengaged = "disengaged_scrolling"

	pauseRuleSpan      = time.Minute
	pauseRuleThreshold = 5
)

// excessivePausing fires when the learner has paused at least
// pauseRuleThreshold times within pauseRuleSpan of the incoming event.
type excessivePausing struct{}

func (excessivePausing) Name() string { return AlertTypePausing }

func (excessivePausing) Evaluate(event types.Event, window []types.Event) (types.Alert, bool) {
	if event.EventType != types.EventPause {
		return types.Alert{}, false
	}

	cutoff := event.CreatedAt.Add(-pauseRuleSpan)
	count := 0
	for _, ev := range window {
		if ev.EventType == types.EventPause && !ev.CreatedAt.Before(cutoff) {
			count++
		}
	}
	if count < pauseRuleThreshold {
		return types.Alert{}, false
	}

	return types.Alert{
		AlertType:     AlertTypePausing,
		Message:       fmt.Sprintf("%s paused %d times in the last minute", event.UserID, count),
		SubjectUserID: event.UserID,
		CreatedAt:     event.CreatedAt,
	}, true
}

// disengagedScrolling fires on a scroll event with no play anywhere in
// the trailing window: the learner is moving through the page without
// consuming the medium.
type disengagedScrolling struct{}

func (disengagedScrolling) Name() string { return AlertTypeDisengaged }

func (disengagedScrolling) Evaluate(event types.Event, window []types.Event) (types.Alert, bool) {
	if event.EventType != types.EventScroll {
		return types.Alert{}, false
	}

	for _, ev := range window {
		if ev.EventType == types.EventPlay {
			return types.Alert{}, false
		}
	}

	return types.Alert{
		AlertType:     AlertTypeDisengaged,
		Message:       fmt.Sprintf("%s is scrolling without playback", event.UserID),
		SubjectUserID: event.UserID,
		CreatedAt:     event.CreatedAt,
	}, true
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{excessivePausing{}, disengagedScrolling{}}
}
