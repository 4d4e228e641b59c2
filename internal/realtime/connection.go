package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrBufferFull       = errors.New("send buffer full")
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Connection wraps a websocket. All writes go through one goroutine; the
// session binding moves from unauthenticated to authenticated exactly once.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	mu        sync.RWMutex
	sessionID string
}

func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues an event for the writer.
func (c *Connection) Send(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *Connection) sendRaw(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// trySend queues data without waiting. A full buffer drops the message.
func (c *Connection) trySend(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// bind authenticates the connection. A second bind is refused.
func (c *Connection) bind(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return false
	}
	c.sessionID = sessionID
	return true
}

func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) IsAuthenticated() bool {
	return c.SessionID() != ""
}

func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
