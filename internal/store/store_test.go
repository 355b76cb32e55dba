package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	opts := DefaultOptions(filepath.Join(t.TempDir(), "test.db"))
	opts.RetryBackoff = 5 * time.Millisecond

	s, err := Open(opts)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendEvent_AssignsIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &types.Event{UserID: "alice", EventType: types.EventPlay, ID: "client-supplied"}
	if err := s.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if ev.ID == "client-supplied" || ev.ID == "" {
		t.Errorf("server did not assign an ID, got %q", ev.ID)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("server did not assign a timestamp")
	}
}

func TestQueryEvents_NewestFirstWithFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	appendEvent := func(userID, eventType string) {
		t.Helper()
		if err := s.AppendEvent(ctx, &types.Event{UserID: userID, EventType: eventType}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	appendEvent("alice", types.EventPlay)
	appendEvent("bob", types.EventPause)
	appendEvent("alice", types.EventPause)
	appendEvent("alice", types.EventScroll)

	all, err := s.QueryEvents(ctx, interfaces.EventFilter{}, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[0].EventType != types.EventScroll {
		t.Errorf("expected newest first, got %s", all[0].EventType)
	}

	aliceOnly, err := s.QueryEvents(ctx, interfaces.EventFilter{UserID: "alice"}, 10)
	if err != nil {
		t.Fatalf("filtered query failed: %v", err)
	}
	if len(aliceOnly) != 3 {
		t.Fatalf("expected 3 alice events, got %d", len(aliceOnly))
	}
	for _, ev := range aliceOnly {
		if ev.UserID != "alice" {
			t.Errorf("filter leaked event for %s", ev.UserID)
		}
	}

	pauses, err := s.QueryEvents(ctx, interfaces.EventFilter{EventType: types.EventPause}, 10)
	if err != nil {
		t.Fatalf("type-filtered query failed: %v", err)
	}
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pause events, got %d", len(pauses))
	}

	limited, err := s.QueryEvents(ctx, interfaces.EventFilter{}, 2)
	if err != nil {
		t.Fatalf("limited query failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2 respected, got %d", len(limited))
	}
}

func TestEventMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &types.Event{
		UserID:    "alice",
		EventType: types.EventPause,
		Metadata:  map[string]any{"position": 42.5, "source": "player"},
	}
	if err := s.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	events, err := s.QueryEvents(ctx, interfaces.EventFilter{UserID: "alice"}, 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Metadata["position"] != 42.5 {
		t.Errorf("metadata position lost: %v", events[0].Metadata)
	}
	if events[0].Metadata["source"] != "player" {
		t.Errorf("metadata source lost: %v", events[0].Metadata)
	}
}

func TestSubscribe_ReceivesAppendedEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	feed, cancel := s.Subscribe()
	defer cancel()

	if err := s.AppendEvent(ctx, &types.Event{UserID: "alice", EventType: types.EventPlay}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	select {
	case ev := <-feed:
		if ev.UserID != "alice" || ev.EventType != types.EventPlay {
			t.Errorf("unexpected event on feed: %+v", ev)
		}
		if ev.ID == "" {
			t.Error("published event missing server-assigned ID")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestSubscribe_CancelIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	_, cancel := s.Subscribe()
	cancel()
	cancel() // second call must not panic
}

func TestAlertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := types.Alert{
		AlertType:     "idle",
		Message:       "alice inactive for 30s",
		SubjectUserID: "alice",
		CreatedAt:     time.Now().UTC().Add(-time.Minute),
	}
	second := types.Alert{
		AlertType:     "excessive_pausing",
		Message:       "bob paused 5 times in the last minute",
		SubjectUserID: "bob",
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.AppendAlert(ctx, first); err != nil {
		t.Fatalf("append first alert failed: %v", err)
	}
	if err := s.AppendAlert(ctx, second); err != nil {
		t.Fatalf("append second alert failed: %v", err)
	}

	alerts, err := s.QueryAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("query alerts failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].SubjectUserID != "bob" {
		t.Errorf("expected newest alert first, got %s", alerts[0].SubjectUserID)
	}
}

func TestUpsertUser_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user := types.User{ID: "aliceexamplecom", Email: "alice@example.com", Role: types.RoleLearner}
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("repeated upsert failed: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.ID != user.ID || got.Role != types.RoleLearner {
		t.Errorf("unexpected user row: %+v", got)
	}

	learners, err := s.ListUsersByRole(ctx, types.RoleLearner)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(learners) != 1 {
		t.Errorf("expected 1 learner after repeated upserts, got %d", len(learners))
	}
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUserByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, interfaces.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s := openTestStore(t)

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("healthy store reported unhealthy: %v", err)
	}
}

func TestClose_RejectsFurtherWrites(t *testing.T) {
	opts := DefaultOptions(filepath.Join(t.TempDir(), "test.db"))
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	err = s.AppendEvent(context.Background(), &types.Event{UserID: "alice", EventType: types.EventPlay})
	if !errors.Is(err, interfaces.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable after close, got %v", err)
	}
}

func TestMigrations_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(DefaultOptions(path))
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := s.AppendEvent(context.Background(), &types.Event{UserID: "alice", EventType: types.EventPlay}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(DefaultOptions(path))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	events, err := reopened.QueryEvents(context.Background(), interfaces.EventFilter{}, 10)
	if err != nil {
		t.Fatalf("query after reopen failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event to survive reopen, got %d", len(events))
	}
}
