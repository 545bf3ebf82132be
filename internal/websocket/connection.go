package websocket

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"proctorwire/pkg/types"
)

const (
	defaultBufferSize   = 100
	defaultWriteTimeout = 5 * time.Second
	// closeGrace bounds how long a close handshake may take before the
	// socket is dropped.
	closeGrace = 2 * time.Second
)

// outbound is one queued frame: a text message or, when close is set, the
// final close frame.
type outbound struct {
	data  []byte
	close *closeFrame
}

type closeFrame struct {
	code   int
	reason string
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan outbound // FUNCTIONAL DISCOVERY: 100 buffer prevents blocking during exam-start bursts
	writeTimeout  time.Duration
	userID        string
	role          string
	sessionID     string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closing       atomic.Bool
	closeOnce     sync.Once
	mu            sync.RWMutex // Protect auth fields
}

// NewConnection creates a new WebSocket connection wrapper
func NewConnection(conn *websocket.Conn) *Connection {
	return newConnection(conn, defaultBufferSize, defaultWriteTimeout)
}

func newConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan outbound, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// The close frame travels through the same queue, so messages queued before
// CloseWithCode reach the client ahead of it.
func (c *Connection) writeLoop() {
	for {
		select {
		case out := <-c.writeCh:
			deadline := time.Now().Add(c.writeTimeout)
			if out.close != nil {
				payload := websocket.FormatCloseMessage(out.close.code, out.close.reason)
				if err := c.conn.WriteControl(websocket.CloseMessage, payload, deadline); err != nil {
					_ = c.Close()
					return
				}
				// The reader sees the client's close reply and closes first;
				// this only covers clients that never answer.
				time.AfterFunc(closeGrace, func() { _ = c.Close() })
				return
			}

			if err := c.conn.SetWriteDeadline(deadline); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				log.Printf("WebSocket write failed: user_id=%s err=%v", c.GetUserID(), err)
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send encodes m and queues it for the writer
func (c *Connection) Send(m types.Message) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := types.Encode(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- outbound{data: data}:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithCode queues a close frame behind any pending messages.
// Only the first call has an effect.
func (c *Connection) CloseWithCode(code int, reason string) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	if reason == "" {
		reason = types.CloseReason(code)
	}

	select {
	case c.writeCh <- outbound{close: &closeFrame{code: code, reason: reason}}:
		return nil
	case <-c.ctx.Done():
		return nil
	default:
		// TECHNICAL DISCOVERY: Queue full means the client stopped reading;
		// WriteControl is safe to call next to the writer goroutine
		payload := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(time.Second))
		return c.Close()
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Authentication state management
func (c *Connection) SetCredentials(userID, role, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
