package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// sendBufferSize bounds undelivered messages per connection. When the
// buffer is full the newest message for that connection is dropped
// (drop-newest); other connections are unaffected.
const sendBufferSize = 100

// writeDeadline bounds a single frame write to a slow peer.
const writeDeadline = 5 * time.Second

// Connection wraps one live channel. All frame writes go through a
// single writer goroutine; Send never writes to the socket directly.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan []byte

	userID string
	role   types.Role
	email  string

	identified bool
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	mu         sync.RWMutex
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded socket and starts its writer.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:   conn,
		sendCh: make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer. Cancelling the connection context
// releases any buffered-but-undelivered messages.
func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a push message for delivery. It never blocks: a full
// buffer means the peer is too slow and the message is dropped.
func (c *Connection) Send(msg types.PushMessage) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		log.Printf("websocket: send buffer full for user %s, dropping %s", c.UserID(), msg.Type)
		return ErrSendBufferFull
	}
}

// Close is idempotent. It stops the writer and closes the socket.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetIdentity records who this channel belongs to. Must be called before
// the connection is registered.
func (c *Connection) SetIdentity(userID string, role types.Role, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.email = email
	c.identified = true
}

func (c *Connection) Identified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identified
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) Email() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.email
}
