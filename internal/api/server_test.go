package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classpulse/internal/router"
	"classpulse/internal/session"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// stubCoordinator scripts coordinator outcomes per test.
type stubCoordinator struct {
	loginUser    *types.User
	loginErr     error
	telemetryErr error
	commandErr   error
	healthErr    error

	learners   []types.LearnerState
	alerts     []types.Alert
	activities []types.Activity

	lastCommand types.ControlCommand
}

func (s *stubCoordinator) Login(ctx context.Context, email, password string) (*types.User, error) {
	return s.loginUser, s.loginErr
}

func (s *stubCoordinator) SubmitTelemetry(ctx context.Context, userID, eventType string, metadata map[string]any) error {
	return s.telemetryErr
}

func (s *stubCoordinator) IssueCommand(ctx context.Context, cmd types.ControlCommand) error {
	s.lastCommand = cmd
	return s.commandErr
}

func (s *stubCoordinator) ListLearners(ctx context.Context) []types.LearnerState { return s.learners }
func (s *stubCoordinator) ListAlerts() []types.Alert                             { return s.alerts }
func (s *stubCoordinator) ListActivities() []types.Activity                      { return s.activities }
func (s *stubCoordinator) StoreHealth(ctx context.Context) error                 { return s.healthErr }
func (s *stubCoordinator) RegistryStats() map[string]int {
	return map[string]int{"total_connections": 0, "online_learners": 0, "online_tutors": 0}
}

func newTestServer(coordinator *stubCoordinator) *Server {
	noopWS := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	return NewServer(coordinator, []string{"*"}, noopWS)
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	stub := &stubCoordinator{
		loginUser: &types.User{ID: "aliceexamplecom", Email: "alice@example.com", Role: types.RoleLearner},
	}
	server := newTestServer(stub)

	rec := doJSON(t, server, http.MethodPost, "/login", map[string]string{
		"email": "alice@example.com", "password": "pass123",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "success" || resp.User.ID != "aliceexamplecom" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestLogin_Failures(t *testing.T) {
	cases := []struct {
		name string
		stub *stubCoordinator
		body any
		want int
	}{
		{"bad credentials", &stubCoordinator{loginErr: session.ErrInvalidCredentials},
			map[string]string{"email": "a@b.c", "password": "nope"}, http.StatusUnauthorized},
		{"store down", &stubCoordinator{loginErr: interfaces.ErrStoreUnavailable},
			map[string]string{"email": "a@b.c", "password": "x"}, http.StatusServiceUnavailable},
		{"missing email", &stubCoordinator{},
			map[string]string{"password": "x"}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := doJSON(t, newTestServer(tc.stub), http.MethodPost, "/login", tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestLogin_MalformedBody(t *testing.T) {
	server := newTestServer(&stubCoordinator{})

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestSubmitEvent(t *testing.T) {
	cases := []struct {
		name string
		stub *stubCoordinator
		want int
	}{
		{"accepted", &stubCoordinator{}, http.StatusAccepted},
		{"invalid event", &stubCoordinator{telemetryErr: types.ErrMissingUserID}, http.StatusBadRequest},
		{"store down", &stubCoordinator{telemetryErr: interfaces.ErrStoreUnavailable}, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		rec := doJSON(t, newTestServer(tc.stub), http.MethodPost, "/events", map[string]any{
			"user_id": "alice", "event_type": "play",
		})
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestControlAction(t *testing.T) {
	body := map[string]any{
		"tutor_id": "tutor1", "learner_id": "alice",
		"action_type": "switch_mode", "new_mode": "text",
	}

	cases := []struct {
		name string
		stub *stubCoordinator
		want int
	}{
		{"dispatched", &stubCoordinator{}, http.StatusOK},
		{"target offline", &stubCoordinator{commandErr: router.ErrTargetOffline}, http.StatusConflict},
		{"invalid mode", &stubCoordinator{commandErr: types.ErrInvalidMode}, http.StatusBadRequest},
		{"invalid action", &stubCoordinator{commandErr: types.ErrInvalidAction}, http.StatusBadRequest},
		{"invalid learner", &stubCoordinator{commandErr: types.ErrInvalidUserID}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := doJSON(t, newTestServer(tc.stub), http.MethodPost, "/control-action", body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestControlAction_DecodesCommand(t *testing.T) {
	stub := &stubCoordinator{}
	server := newTestServer(stub)

	rec := doJSON(t, server, http.MethodPost, "/control-action", map[string]any{
		"tutor_id": "tutor1", "learner_id": "alice",
		"action_type": "switch_mode", "new_mode": "audio",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if stub.lastCommand.LearnerID != "alice" || stub.lastCommand.NewMode != types.ModeAudio {
		t.Errorf("command not decoded: %+v", stub.lastCommand)
	}

	var resp controlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "mode_switched" || resp.NewMode != types.ModeAudio {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestListEndpoints(t *testing.T) {
	now := time.Now().UTC()
	stub := &stubCoordinator{
		learners: []types.LearnerState{
			{UserID: "alice", Email: "alice@example.com", Mode: types.ModeVideo, Status: types.StatusOnline},
		},
		alerts: []types.Alert{
			{AlertType: "idle", Message: "alice inactive", SubjectUserID: "alice", CreatedAt: now},
		},
		activities: []types.Activity{
			{UserID: "alice", EventType: "play", CreatedAt: now},
		},
	}
	server := newTestServer(stub)

	rec := doJSON(t, server, http.MethodGet, "/students", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("students: expected 200, got %d", rec.Code)
	}
	var students []types.LearnerState
	if err := json.Unmarshal(rec.Body.Bytes(), &students); err != nil {
		t.Fatalf("students decode failed: %v", err)
	}
	if len(students) != 1 || students[0].UserID != "alice" {
		t.Errorf("unexpected students payload: %+v", students)
	}

	rec = doJSON(t, server, http.MethodGet, "/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts: expected 200, got %d", rec.Code)
	}
	var alerts []types.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("alerts decode failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AlertType != "idle" {
		t.Errorf("unexpected alerts payload: %+v", alerts)
	}

	rec = doJSON(t, server, http.MethodGet, "/activities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activities: expected 200, got %d", rec.Code)
	}
	var activities []types.Activity
	if err := json.Unmarshal(rec.Body.Bytes(), &activities); err != nil {
		t.Fatalf("activities decode failed: %v", err)
	}
	if len(activities) != 1 || activities[0].EventType != "play" {
		t.Errorf("unexpected activities payload: %+v", activities)
	}
}

func TestListEndpoints_EmptyAreArrays(t *testing.T) {
	server := newTestServer(&stubCoordinator{})

	for _, path := range []string{"/alerts", "/activities"} {
		rec := doJSON(t, server, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
			continue
		}
		body := bytes.TrimSpace(rec.Body.Bytes())
		if string(body) == "null" {
			t.Errorf("%s: empty feed serialized as null", path)
		}
	}
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubCoordinator{}), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when healthy, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "healthy" || resp.Store != "healthy" {
		t.Errorf("unexpected health payload: %+v", resp)
	}
	if resp.Connections == nil {
		t.Error("health payload missing connection stats")
	}

	rec = doJSON(t, newTestServer(&stubCoordinator{healthErr: errors.New("disk gone")}), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when store is down, got %d", rec.Code)
	}
}

func TestErrorPayloadShape(t *testing.T) {
	stub := &stubCoordinator{commandErr: router.ErrTargetOffline}
	rec := doJSON(t, newTestServer(stub), http.MethodPost, "/control-action", map[string]any{
		"tutor_id": "tutor1", "learner_id": "alice",
		"action_type": "switch_mode", "new_mode": "text",
	})

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "error" || resp.Detail == "" {
		t.Errorf("unexpected error payload: %+v", resp)
	}
}
