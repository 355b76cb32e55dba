package session

import (
	"sort"
	"sync"

	"classpulse/pkg/types"
)

// stateTable is the single source of truth for learner state in this
// process. Mode changes only through a dispatched control command and
// status only through a connection transition, both behind one mutex so
// a concurrent idle evaluation and a tutor mode switch cannot lose an
// update.
type stateTable struct {
	mu       sync.RWMutex
	learners map[string]*types.LearnerState

	// explicitLogout marks learners whose last session ended with a
	// logout event, which suppresses the synthetic logout appended when
	// the socket drops.
	explicitLogout map[string]bool
}

func newStateTable() *stateTable {
	return &stateTable{
		learners:       make(map[string]*types.LearnerState),
		explicitLogout: make(map[string]bool),
	}
}

// setOnline flips a learner online and clears any logout mark from the
// prior session. Mode survives reconnection.
func (t *stateTable) setOnline(userID, email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ls := t.ensureLocked(userID, email)
	ls.Status = types.StatusOnline
	if email != "" && email != "unknown" {
		ls.Email = email
	}
	t.explicitLogout[userID] = false
}

// setOffline flips a learner offline. Reports whether the learner had
// logged out explicitly beforehand.
func (t *stateTable) setOffline(userID string) (explicit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ls, exists := t.learners[userID]; exists {
		ls.Status = types.StatusOffline
	}
	return t.explicitLogout[userID]
}

// markLoggedOut records an explicit logout and flips the learner
// offline.
func (t *stateTable) markLoggedOut(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ls, exists := t.learners[userID]; exists {
		ls.Status = types.StatusOffline
	}
	t.explicitLogout[userID] = true
}

// setMode records the effect of a successfully dispatched control
// command.
func (t *stateTable) setMode(userID string, mode types.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ls := t.ensureLocked(userID, "")
	ls.Mode = mode
}

func (t *stateTable) get(userID string) (types.LearnerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if ls, exists := t.learners[userID]; exists {
		return *ls, true
	}
	return types.LearnerState{}, false
}

// snapshot merges the directory rows into the live table and returns all
// known learners, sorted by email for stable output. Directory learners
// the process has not seen yet appear offline in the default mode.
func (t *stateTable) snapshot(directory []types.User) []types.LearnerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	merged := make(map[string]types.LearnerState, len(t.learners)+len(directory))
	for _, u := range directory {
		merged[u.ID] = types.LearnerState{
			UserID: u.ID,
			Email:  u.Email,
			Mode:   types.DefaultMode,
			Status: types.StatusOffline,
		}
	}
	for id, ls := range t.learners {
		merged[id] = *ls
	}

	out := make([]types.LearnerState, 0, len(merged))
	for _, ls := range merged {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (t *stateTable) ensureLocked(userID, email string) *types.LearnerState {
	ls, exists := t.learners[userID]
	if !exists {
		ls = &types.LearnerState{
			UserID: userID,
			Email:  email,
			Mode:   types.DefaultMode,
			Status: types.StatusOffline,
		}
		t.learners[userID] = ls
	}
	return ls
}
