package alert

import (
	"sync"
	"time"

	"classpulse/pkg/types"
)

// windowSpan bounds the trailing event window kept per learner. It must
// cover the longest span any rule inspects.
const windowSpan = 2 * time.Minute

// seenLimit caps the replay-suppression set per learner.
const seenLimit = 512

// Engine evaluates telemetry against the rule set and owns the
// per-learner idle timers. Alerts from expired idle timers arrive
// through the sink; alerts from rules are returned by Observe.
type Engine struct {
	rules         []Rule
	idleThreshold time.Duration
	sink          func(types.Alert)

	mu       sync.Mutex
	learners map[string]*learnerWindow
}

// learnerWindow is the engine's per-learner state: the trailing event
// window, replay suppression, per-rule re-fire arming, and idle timer.
type learnerWindow struct {
	events []types.Event
	seen   map[string]struct{}
	order  []string
	armed  map[string]bool // rule name -> already fired, waiting to re-arm
	idle   *time.Timer
}

// NewEngine builds an engine. The sink receives idle alerts fired from
// timer expiry; it is called without the engine lock held.
func NewEngine(idleThreshold time.Duration, sink func(types.Alert), rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{
		rules:         rules,
		idleThreshold: idleThreshold,
		sink:          sink,
		learners:      make(map[string]*learnerWindow),
	}
}

// Observe evaluates one event and returns any alerts it triggers.
//
// Idempotence: an event ID already observed is a no-op, so replaying an
// already-processed event cannot re-fire an alert. A threshold rule
// fires when its condition first becomes true and re-arms only after a
// later event finds the condition false again.
func (e *Engine) Observe(event types.Event) []types.Alert {
	e.mu.Lock()

	lw := e.learner(event.UserID)

	if _, dup := lw.seen[event.ID]; dup {
		e.mu.Unlock()
		return nil
	}
	lw.remember(event.ID)

	lw.events = append(lw.events, event)
	lw.prune(event.CreatedAt)

	var fired []types.Alert
	for _, rule := range e.rules {
		alert, ok := rule.Evaluate(event, lw.events)
		if !ok {
			lw.armed[rule.Name()] = false
			continue
		}
		if lw.armed[rule.Name()] {
			continue // same underlying cause, already alerted
		}
		lw.armed[rule.Name()] = true
		fired = append(fired, alert)
	}

	e.resetIdleLocked(lw, event)
	e.mu.Unlock()

	return fired
}

// resetIdleLocked restarts the learner's idle timer on qualifying
// activity. Idle reports and logouts do not count as activity; a logout
// disarms the timer entirely.
func (e *Engine) resetIdleLocked(lw *learnerWindow, event types.Event) {
	switch event.EventType {
	case types.EventIdle:
		return
	case types.EventLogout:
		if lw.idle != nil {
			lw.idle.Stop()
			lw.idle = nil
		}
		return
	}

	userID := event.UserID
	if lw.idle != nil {
		lw.idle.Stop()
	}
	// The timer fires once per idle period; it is not restarted until
	// the next qualifying event arrives.
	lw.idle = time.AfterFunc(e.idleThreshold, func() {
		e.fireIdle(userID)
	})
}

func (e *Engine) fireIdle(userID string) {
	e.mu.Lock()
	lw, exists := e.learners[userID]
	if !exists || lw.idle == nil {
		e.mu.Unlock()
		return
	}
	lw.idle = nil
	threshold := e.idleThreshold
	e.mu.Unlock()

	e.sink(types.Alert{
		AlertType:     AlertTypeIdle,
		Message:       userID + " inactive for " + threshold.String(),
		SubjectUserID: userID,
		CreatedAt:     time.Now().UTC(),
	})
}

// Forget drops all engine state for a learner. Called on disconnect so
// a gone learner cannot fire an idle alert.
func (e *Engine) Forget(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lw, exists := e.learners[userID]; exists {
		if lw.idle != nil {
			lw.idle.Stop()
		}
		delete(e.learners, userID)
	}
}

func (e *Engine) learner(userID string) *learnerWindow {
	lw, exists := e.learners[userID]
	if !exists {
		lw = &learnerWindow{
			seen:  make(map[string]struct{}),
			armed: make(map[string]bool),
		}
		e.learners[userID] = lw
	}
	return lw
}

func (lw *learnerWindow) remember(eventID string) {
	lw.seen[eventID] = struct{}{}
	lw.order = append(lw.order, eventID)
	if len(lw.order) > seenLimit {
		delete(lw.seen, lw.order[0])
		lw.order = lw.order[1:]
	}
}

func (lw *learnerWindow) prune(now time.Time) {
	cutoff := now.Add(-windowSpan)
	kept := lw.events[:0]
	for _, ev := range lw.events {
		if !ev.CreatedAt.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	lw.events = kept
}
