package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"classpulse/internal/router"
	"classpulse/internal/session"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Coordinator is the slice of the session coordinator the HTTP surface
// needs. The API layer holds no business logic: only HTTP handling,
// JSON serialization, and error mapping.
type Coordinator interface {
	Login(ctx context.Context, email, password string) (*types.User, error)
	SubmitTelemetry(ctx context.Context, userID, eventType string, metadata map[string]any) error
	IssueCommand(ctx context.Context, cmd types.ControlCommand) error
	ListLearners(ctx context.Context) []types.LearnerState
	ListAlerts() []types.Alert
	ListActivities() []types.Activity
	StoreHealth(ctx context.Context) error
	RegistryStats() map[string]int
}

type Server struct {
	coordinator Coordinator
	router      chi.Router
}

// NewServer builds the request/response surface. liveChannel is mounted
// at /ws so both transports share one listener.
func NewServer(coordinator Coordinator, corsOrigins []string, liveChannel http.HandlerFunc) *Server {
	s := &Server{
		coordinator: coordinator,
		router:      chi.NewRouter(),
	}

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Post("/login", s.login)
	s.router.Post("/events", s.submitEvent)
	s.router.Post("/control-action", s.controlAction)
	s.router.Get("/students", s.listStudents)
	s.router.Get("/alerts", s.listAlerts)
	s.router.Get("/activities", s.listActivities)
	s.router.Get("/health", s.health)
	s.router.Get("/ws", liveChannel)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status string      `json:"status"`
	User   *types.User `json:"user"`
}

type eventRequest struct {
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata"`
}

type controlResponse struct {
	Status    string     `json:"status"`
	LearnerID string     `json:"learner_id"`
	NewMode   types.Mode `json:"new_mode"`
}

type errorResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := s.coordinator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, interfaces.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Status: "success", User: user})
}

func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.coordinator.SubmitTelemetry(r.Context(), req.UserID, req.EventType, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "event not recorded: store unavailable")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) controlAction(w http.ResponseWriter, r *http.Request) {
	var cmd types.ControlCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.coordinator.IssueCommand(r.Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrTargetOffline):
			writeError(w, http.StatusConflict, "target learner is offline")
		case errors.Is(err, types.ErrInvalidMode),
			errors.Is(err, types.ErrInvalidAction),
			errors.Is(err, types.ErrInvalidUserID):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "command dispatch failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, controlResponse{
		Status:    "mode_switched",
		LearnerID: cmd.LearnerID,
		NewMode:   cmd.NewMode,
	})
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.ListLearners(r.Context()))
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.coordinator.ListAlerts()
	if alerts == nil {
		alerts = []types.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	activities := s.coordinator.ListActivities()
	if activities == nil {
		activities = []types.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, storeStatus := "healthy", "healthy"
	if err := s.coordinator.StoreHealth(ctx); err != nil {
		status = "unhealthy"
		storeStatus = err.Error()
	}

	resp := healthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Store:       storeStatus,
		Connections: s.coordinator.RegistryStats(),
		System:      systemInfo(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// systemInfo samples process and host stats. Sampling failures leave
// fields out rather than failing the health check.
func systemInfo() map[string]any {
	info := make(map[string]any)

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if rss, err := proc.MemoryInfo(); err == nil && rss != nil {
			info["process_rss_bytes"] = rss.RSS
		}
		if cpuPerc, err := proc.CPUPercent(); err == nil {
			info["process_cpu_load"] = cpuPerc / 100.0
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info["system_memory_total_bytes"] = vm.Total
		info["system_memory_used_bytes"] = vm.Total - vm.Available
	}
	if sysCPU, err := cpu.Percent(0, false); err == nil && len(sysCPU) > 0 {
		info["system_cpu_load"] = sysCPU[0] / 100.0
	}

	return info
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Status: "error", Detail: detail})
}
