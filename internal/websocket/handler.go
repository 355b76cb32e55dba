package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"classpulse/pkg/types"
)

const (
	handshakeTimeout = 10 * time.Second
	readDeadline     = 60 * time.Second
	pingInterval     = 30 * time.Second
	pingWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The learner client is served from a different origin.
		return true
	},
	HandshakeTimeout: handshakeTimeout,
}

// Coordinator is the slice of the session coordinator the handler needs:
// wiring a validated connection in and reporting when it drops.
type Coordinator interface {
	HandleConnect(conn *Connection) error
	HandleDisconnect(conn *Connection)
}

// Handler upgrades live-channel requests and runs their read loop. The
// channel is push-only; the read loop exists for liveness detection.
type Handler struct {
	coordinator Coordinator
}

func NewHandler(coordinator Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// HandleLiveChannel handles GET /ws?user_id&role&email. Validation runs
// before the upgrade so bad handshakes get proper HTTP errors.
func (h *Handler) HandleLiveChannel(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	role := types.Role(r.URL.Query().Get("role"))
	email := r.URL.Query().Get("email")

	if userID == "" || role == "" {
		http.Error(w, "Missing required query parameters: user_id, role", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'learner' or 'tutor'", http.StatusBadRequest)
		return
	}
	if email == "" {
		email = "unknown"
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn)
	conn.SetIdentity(userID, role, email)

	if err := h.coordinator.HandleConnect(conn); err != nil {
		log.Printf("websocket: connect rejected for %s/%s: %v", userID, role, err)
		_ = conn.Close()
		return
	}

	go h.runConnection(conn)
}

// runConnection owns the connection lifecycle: heartbeat plus a read
// loop that exists purely to notice the peer going away. No
// client-to-server messages are expected on this channel; commands go
// through the request/response surface.
func (h *Handler) runConnection(conn *Connection) {
	defer func() {
		h.coordinator.HandleDisconnect(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		log.Printf("websocket: failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pingWriteWait)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error for %s/%s: %v", conn.UserID(), conn.Role(), err)
			}
			return
		}
		// Ignore any payload: the live channel is server-push only.
	}
}
