package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"classpulse/internal/alert"
	"classpulse/internal/router"
	"classpulse/internal/websocket"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// opTimeout bounds internal store operations triggered by lifecycle
// transitions, where no request context is available.
const opTimeout = 10 * time.Second

// Config carries the coordinator's tunables.
type Config struct {
	IdleThreshold   time.Duration
	TutorPassword   string
	LearnerPassword string
}

// Coordinator wires ingestion, the rule engine, the broadcast router,
// and the connection registry together and exposes the request/command
// surface. Nothing it handles is fatal: a bad event, a failed delivery,
// or a dropped connection never takes other users' sessions down.
type Coordinator struct {
	store    interfaces.EventStore
	registry *websocket.Registry
	router   *router.Router
	engine   *alert.Engine
	state    *stateTable
	cfg      Config

	stopFeed func()
}

func NewCoordinator(store interfaces.EventStore, registry *websocket.Registry, rt *router.Router, cfg Config) *Coordinator {
	c := &Coordinator{
		store:    store,
		registry: registry,
		router:   rt,
		state:    newStateTable(),
		cfg:      cfg,
	}
	// Idle alerts fire from timer expiry rather than an incoming event,
	// so they reach tutors through the engine's sink.
	c.engine = alert.NewEngine(cfg.IdleThreshold, c.publishAlert)
	return c
}

// Start warms the live feeds from the store and begins mirroring the
// event subscription to tutors as ACTIVITY pushes.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.warmFeeds(ctx); err != nil {
		return fmt.Errorf("failed to warm feeds: %w", err)
	}

	events, cancel := c.store.Subscribe()
	c.stopFeed = cancel

	go func() {
		for ev := range events {
			c.router.Activities.Push(types.Activity{
				UserID:    ev.UserID,
				EventType: ev.EventType,
				CreatedAt: ev.CreatedAt,
			})
			c.router.NotifyTutors(types.ActivityMessage(ev.UserID, ev.EventType))
		}
	}()

	log.Println("session: coordinator started")
	return nil
}

// Stop releases the store subscription.
func (c *Coordinator) Stop() {
	if c.stopFeed != nil {
		c.stopFeed()
	}
}

// warmFeeds reloads the bounded live feeds from the store so snapshot
// queries survive a restart. Entries are pushed oldest-first to end up
// newest-first.
func (c *Coordinator) warmFeeds(ctx context.Context) error {
	alerts, err := c.store.QueryAlerts(ctx, c.router.Alerts.Cap())
	if err != nil {
		return err
	}
	for i := len(alerts) - 1; i >= 0; i-- {
		c.router.Alerts.Push(alerts[i])
	}

	events, err := c.store.QueryEvents(ctx, interfaces.EventFilter{}, c.router.Activities.Cap())
	if err != nil {
		return err
	}
	for i := len(events) - 1; i >= 0; i-- {
		c.router.Activities.Push(types.Activity{
			UserID:    events[i].UserID,
			EventType: events[i].EventType,
			CreatedAt: events[i].CreatedAt,
		})
	}
	return nil
}

// HandleConnect wires a validated connection into the registry. Tutors
// immediately receive a STUDENT_LIST snapshot; a learner coming online
// refreshes the snapshot for every tutor.
func (c *Coordinator) HandleConnect(conn *websocket.Connection) error {
	if err := c.registry.Register(conn); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch conn.Role() {
	case types.RoleTutor:
		if err := conn.Send(types.StudentListMessage(c.ListLearners(ctx))); err != nil {
			log.Printf("session: failed to send student list to tutor %s: %v", conn.UserID(), err)
		}

	case types.RoleLearner:
		c.state.setOnline(conn.UserID(), conn.Email())
		if conn.Email() != "" && conn.Email() != "unknown" {
			user := types.User{
				ID:    conn.UserID(),
				Email: conn.Email(),
				Role:  types.RoleLearner,
			}
			if err := c.store.UpsertUser(ctx, user); err != nil {
				log.Printf("session: failed to upsert learner %s: %v", conn.UserID(), err)
			}
		}
		c.broadcastStudentList(ctx)
	}

	log.Printf("session: connected user=%s role=%s", conn.UserID(), conn.Role())
	return nil
}

// HandleDisconnect unwires a dropped connection. A learner whose slot
// was superseded stays online under the new connection; otherwise the
// learner goes offline and, unless an explicit logout preceded the drop,
// a synthetic logout event is appended for the record.
func (c *Coordinator) HandleDisconnect(conn *websocket.Connection) {
	c.registry.Unregister(conn)

	if conn.Role() != types.RoleLearner {
		log.Printf("session: disconnected user=%s role=%s", conn.UserID(), conn.Role())
		return
	}

	if _, err := c.registry.Lookup(conn.UserID(), types.RoleLearner); err == nil {
		// Superseded: a newer connection holds the slot.
		return
	}

	c.engine.Forget(conn.UserID())
	explicit := c.state.setOffline(conn.UserID())

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !explicit {
		ev := &types.Event{UserID: conn.UserID(), EventType: types.EventLogout}
		if err := c.store.AppendEvent(ctx, ev); err != nil {
			log.Printf("session: failed to record logout for %s: %v", conn.UserID(), err)
		}
	}

	c.broadcastStudentList(ctx)
	log.Printf("session: disconnected user=%s role=learner explicit_logout=%t", conn.UserID(), explicit)
}

// SubmitTelemetry ingests one behavioral event: append to the store
// (bounded retry inside; failure surfaces here and the event is
// dropped), then evaluate alert rules and reset the idle timer. The
// ACTIVITY push to tutors rides the store subscription, so only durable
// events are mirrored.
func (c *Coordinator) SubmitTelemetry(ctx context.Context, userID, eventType string, metadata map[string]any) error {
	ev := &types.Event{
		UserID:    userID,
		EventType: eventType,
		Metadata:  metadata,
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	if err := c.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	for _, a := range c.engine.Observe(*ev) {
		c.publishAlert(a)
	}

	if eventType == types.EventLogout {
		c.state.markLoggedOut(userID)
		c.broadcastStudentList(ctx)
	}

	return nil
}

// publishAlert persists an alert, records it in the live feed, and
// pushes it to every tutor. Persistence failure downgrades the alert to
// live-only rather than losing it.
func (c *Coordinator) publishAlert(a types.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.store.AppendAlert(ctx, a); err != nil {
		log.Printf("session: failed to persist %s alert for %s: %v", a.AlertType, a.SubjectUserID, err)
	}

	c.router.Alerts.Push(a)
	c.router.NotifyTutors(types.AlertMessage(a))
}

// IssueCommand validates and dispatches a tutor control command.
// Validation failures change nothing and broadcast nothing. An offline
// target returns router.ErrTargetOffline with the learner's mode
// unchanged; the command is not queued or retried.
func (c *Coordinator) IssueCommand(ctx context.Context, cmd types.ControlCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	// Deliver first: mode must only reflect successfully dispatched
	// commands. A send that merely overflows the peer's buffer still
	// counts as dispatched under the drop-newest policy.
	err := c.router.NotifyLearner(cmd.LearnerID, types.ModeSwitchMessage(cmd.NewMode))
	if err != nil && err != websocket.ErrSendBufferFull {
		if err == router.ErrTargetOffline || err == websocket.ErrConnectionClosed {
			return router.ErrTargetOffline
		}
		return err
	}

	c.state.setMode(cmd.LearnerID, cmd.NewMode)

	audit := &types.Event{
		UserID:    cmd.LearnerID,
		EventType: types.EventModeSwitch,
		Metadata: map[string]any{
			"tutor_id": cmd.TutorID,
			"new_mode": string(cmd.NewMode),
		},
	}
	if err := c.store.AppendEvent(ctx, audit); err != nil {
		// The command already took effect; the audit trail has a gap.
		log.Printf("session: failed to audit mode_switch for %s: %v", cmd.LearnerID, err)
	}

	c.broadcastStudentList(ctx)
	log.Printf("session: mode_switch learner=%s mode=%s tutor=%s", cmd.LearnerID, cmd.NewMode, cmd.TutorID)
	return nil
}

// Login is the boundary to the external credential system: a shared
// per-role password gate, deterministic ID derivation, and a directory
// upsert so the same email always resumes the same identity.
func (c *Coordinator) Login(ctx context.Context, email, password string) (*types.User, error) {
	var role types.Role
	switch password {
	case "":
		return nil, ErrInvalidCredentials
	case c.cfg.TutorPassword:
		role = types.RoleTutor
	case c.cfg.LearnerPassword:
		role = types.RoleLearner
	default:
		return nil, ErrInvalidCredentials
	}

	id := types.DeriveUserID(email)
	if id == "" {
		return nil, ErrInvalidCredentials
	}

	user := types.User{ID: id, Email: email, Role: role}
	if err := c.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListLearners returns the authoritative learner view: every learner in
// the directory plus any the process has seen live, with current mode
// and status.
func (c *Coordinator) ListLearners(ctx context.Context) []types.LearnerState {
	directory, err := c.store.ListUsersByRole(ctx, types.RoleLearner)
	if err != nil {
		log.Printf("session: failed to list learner directory: %v", err)
		// Degrade to live state only.
	}
	return c.state.snapshot(directory)
}

// ListAlerts returns the bounded live alert feed, newest first.
func (c *Coordinator) ListAlerts() []types.Alert {
	return c.router.Alerts.Items()
}

// ListActivities returns the bounded live activity feed, newest first.
func (c *Coordinator) ListActivities() []types.Activity {
	return c.router.Activities.Items()
}

// StoreHealth reports whether the backing store is reachable.
func (c *Coordinator) StoreHealth(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}

// RegistryStats reports connection counts for the health endpoint.
func (c *Coordinator) RegistryStats() map[string]int {
	return c.registry.Stats()
}

func (c *Coordinator) broadcastStudentList(ctx context.Context) {
	c.router.NotifyTutors(types.StudentListMessage(c.ListLearners(ctx)))
}
