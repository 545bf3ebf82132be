// Package controller owns the client side of a session connection: connect,
// heartbeat latency, close-code interpretation and bounded reconnection.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"proctorwire/internal/clock"
	"proctorwire/pkg/types"
)

// Config describes where and how to connect.
type Config struct {
	// URL is the relay's WebSocket endpoint, e.g. ws://host:8080/ws.
	URL    string `json:"url" yaml:"url"`
	UserID string `json:"user_id" yaml:"user_id"`
	Role   string `json:"role" yaml:"role"`

	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	HandshakeTimeout  time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	Backoff           BackoffConfig `json:"backoff" yaml:"backoff"`
}

// DefaultConfig returns a config with every timing field set.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Backoff:           DefaultBackoff(),
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	c.Backoff.defaults()
}

// CloseInfo describes how the last connection ended.
type CloseInfo struct {
	Code   int       `json:"code"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Retryable reports whether the close allows reconnection.
func (ci CloseInfo) Retryable() bool {
	return ci.Code != types.CloseNormalClosure && !types.IsNonRetryableClose(ci.Code)
}

// Option configures a Controller.
type Option func(*Controller)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(c *Controller) { c.dialer = d }
}

// WithClock sets the clock for heartbeats, backoff and timestamps.
func WithClock(cl clock.Clock) Option {
	return func(c *Controller) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller is one connection's lifecycle. It is safe for concurrent use;
// subscriber callbacks run outside its lock.
type Controller struct {
	cfg    Config
	dialer Dialer
	clock  clock.Clock
	logger *log.Logger

	heartbeat *clock.Slot
	retry     *clock.Slot

	mu              sync.Mutex
	status          types.ConnectionStatus
	sessionID       string
	token           string
	link            *link
	gen             uint64
	attempts        int
	lastClose       CloseInfo
	latency         time.Duration
	hasLatency      bool
	heartbeatSentAt time.Time

	onMessage subscribers[types.Message]
	onError   subscribers[error]
	onClose   subscribers[CloseInfo]
	onStatus  subscribers[types.ConnectionStatus]
}

// New creates a disconnected controller.
func New(cfg Config, opts ...Option) *Controller {
	cfg.defaults()
	c := &Controller{
		cfg:    cfg,
		status: types.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(cfg.HandshakeTimeout)
	}
	c.heartbeat = clock.NewSlot(c.clock)
	c.retry = clock.NewSlot(c.clock)
	return c
}

// OnMessage subscribes to inbound messages, including the local connected
// message. Heartbeat and pong frames are consumed internally.
func (c *Controller) OnMessage(fn func(types.Message)) func() { return c.onMessage.add(fn) }

// OnError subscribes to errors. ErrReconnectExhausted is fatal.
func (c *Controller) OnError(fn func(error)) func() { return c.onError.add(fn) }

// OnClose subscribes to connection closes.
func (c *Controller) OnClose(fn func(CloseInfo)) func() { return c.onClose.add(fn) }

// OnStatusChange subscribes to status transitions.
func (c *Controller) OnStatusChange(fn func(types.ConnectionStatus)) func() {
	return c.onStatus.add(fn)
}

// Status returns the current status.
func (c *Controller) Status() types.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the connection is open.
func (c *Controller) IsConnected() bool {
	return c.Status() == types.StatusConnected
}

// Latency returns the last heartbeat round trip, if one completed.
func (c *Controller) Latency() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency, c.hasLatency
}

// ReconnectAttempts returns the attempts made since the last open.
func (c *Controller) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastClose returns the most recent close.
func (c *Controller) LastClose() CloseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastClose
}

// SessionID returns the session of the current or last connection.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect opens a connection to sessionID. It fails when a connection is
// already open or in progress.
func (c *Controller) Connect(ctx context.Context, sessionID, token string) error {
	if sessionID == "" {
		return ErrMissingSession
	}

	c.mu.Lock()
	if c.status != types.StatusDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.gen++
	gen := c.gen
	c.sessionID = sessionID
	c.token = token
	c.attempts = 0
	c.mu.Unlock()
	c.setStatus(gen, types.StatusConnecting)

	conn, err := c.dialer.Dial(ctx, c.endpoint(sessionID, token), nil)
	if err != nil {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if !stale {
			c.setStatus(gen, types.StatusDisconnected)
		}
		return fmt.Errorf("connect session %s: %w", sessionID, err)
	}
	if !c.open(gen, conn) {
		_ = conn.Close()
		return ErrNotConnected
	}
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
func (c *Controller) Disconnect() {
	c.retry.Cancel()
	c.heartbeat.Cancel()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	l := c.link
	c.link = nil
	c.attempts = 0
	c.mu.Unlock()

	if l != nil {
		l.shutdown(types.CloseNormalClosure, "client disconnect")
	}
	c.setStatus(gen, types.StatusDisconnected)
}

// SendMessage sends a message of msgType whose fields come from payload.
// payload may be nil, a types.Message, or anything encoding to a JSON object.
func (c *Controller) SendMessage(msgType string, payload any) error {
	if m, ok := payload.(types.Message); ok {
		return c.Send(m)
	}

	frame := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			return ErrInvalidPayload
		}
	}
	frame["type"] = msgType
	frame["timestamp"] = c.clock.Now().UTC()
	if sid := c.SessionID(); sid != "" {
		frame["session_id"] = sid
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	return c.write(data)
}

// Send stamps and sends a typed message.
func (c *Controller) Send(m types.Message) error {
	types.Stamp(m, c.SessionID(), c.clock.Now().UTC())
	data, err := types.Encode(m)
	if err != nil {
		return err
	}
	return c.write(data)
}

// write fails fast when the connection is not open.
func (c *Controller) write(data []byte) error {
	c.mu.Lock()
	l := c.link
	open := c.status == types.StatusConnected
	c.mu.Unlock()
	if l == nil || !open {
		return ErrNotConnected
	}
	return l.enqueue(data)
}

func (c *Controller) endpoint(sessionID, token string) string {
	q := url.Values{}
	q.Set("session_id", sessionID)
	if c.cfg.UserID != "" {
		q.Set("user_id", c.cfg.UserID)
	}
	if c.cfg.Role != "" {
		q.Set("role", c.cfg.Role)
	}
	if token != "" {
		q.Set("token", token)
	}
	return c.cfg.URL + "?" + q.Encode()
}

// open installs conn as the live connection for gen.
func (c *Controller) open(gen uint64, conn Conn) bool {
	l := newLink(conn, c.cfg.WriteTimeout)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		l.shutdown(0, "")
		return false
	}
	c.link = l
	c.attempts = 0
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Printf("Connection opened: session_id=%s user_id=%s", sessionID, c.cfg.UserID)
	c.setStatus(gen, types.StatusConnected)
	go c.readLoop(gen, l)
	c.scheduleHeartbeat(gen)

	// FUNCTIONAL DISCOVERY: Subscribers get a deterministic open signal
	// without waiting for the relay to say anything.
	c.onMessage.emit(&types.Connected{
		Header: types.Header{
			Type:      types.TypeConnected,
			SessionID: sessionID,
			Timestamp: c.clock.Now().UTC(),
		},
		ConnectionID: uuid.NewString(),
		Local:        true,
	})
	return true
}

func (c *Controller) readLoop(gen uint64, l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			info := CloseInfo{Code: types.CloseAbnormalClosure, Reason: err.Error(), At: c.clock.Now()}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				info.Code = ce.Code
				info.Reason = ce.Text
			}
			l.shutdown(0, "")
			c.handleClose(gen, info)
			return
		}
		c.handleFrame(gen, data)
	}
}

func (c *Controller) handleFrame(gen uint64, data []byte) {
	msg, err := types.Decode(data)
	if err != nil {
		c.logger.Printf("Dropping inbound frame: error=%v size=%d", err, len(data))
		return
	}

	switch m := msg.(type) {
	case *types.Pong:
		c.mu.Lock()
		if c.gen == gen && !c.heartbeatSentAt.IsZero() {
			c.latency = c.clock.Now().Sub(c.heartbeatSentAt)
			c.hasLatency = true
		}
		c.mu.Unlock()
		return
	case *types.Heartbeat:
		return
	default:
		c.onMessage.emit(m)
	}
}

func (c *Controller) scheduleHeartbeat(gen uint64) {
	c.heartbeat.Schedule(c.cfg.HeartbeatInterval, func() {
		c.mu.Lock()
		if c.gen != gen || c.status != types.StatusConnected {
			c.mu.Unlock()
			return
		}
		c.heartbeatSentAt = c.clock.Now()
		c.mu.Unlock()

		hb := &types.Heartbeat{Header: types.Header{Type: types.TypeHeartbeat, Timestamp: c.clock.Now().UTC()}}
		if data, err := types.Encode(hb); err == nil {
			if err := c.write(data); err != nil {
				c.logger.Printf("Heartbeat send failed: error=%v", err)
			}
		}
		c.scheduleHeartbeat(gen)
	})
}

// handleClose classifies a close of the connection opened in gen.
// ARCHITECTURAL DISCOVERY: Only the application band and a normal closure
// end the lifecycle; every other code is treated as a network fault.
func (c *Controller) handleClose(gen uint64, info CloseInfo) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.lastClose = info
	retry := info.Retryable()
	if !retry {
		c.attempts = 0
	}
	c.mu.Unlock()
	c.heartbeat.Cancel()

	c.logger.Printf("Connection closed: code=%d reason=%q retry=%v", info.Code, info.Reason, retry)
	c.onClose.emit(info)

	if !retry {
		c.setStatus(gen, types.StatusDisconnected)
		return
	}
	c.scheduleReconnect(gen)
}

func (c *Controller) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.Backoff.MaxAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Printf("Reconnect exhausted: attempts=%d", attempts)
		c.setStatus(gen, types.StatusDisconnected)
		c.onError.emit(fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts))
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	delay := c.cfg.Backoff.Delay(attempt)
	c.setStatus(gen, types.StatusReconnecting)
	c.logger.Printf("Reconnect scheduled: attempt=%d delay=%v", attempt, delay)
	c.retry.Schedule(delay, func() { c.reconnect(gen) })
}

func (c *Controller) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.status != types.StatusReconnecting {
		c.mu.Unlock()
		return
	}
	sessionID, token := c.sessionID, c.token
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	conn, err := c.dialer.Dial(ctx, c.endpoint(sessionID, token), nil)
	if err != nil {
		c.logger.Printf("Reconnect failed: error=%v", err)
		c.onError.emit(err)
		c.scheduleReconnect(gen)
		return
	}
	if !c.open(gen, conn) {
		_ = conn.Close()
	}
}

// setStatus records s and notifies subscribers when it changed and gen is
// still current.
func (c *Controller) setStatus(gen uint64, s types.ConnectionStatus) {
	c.mu.Lock()
	if c.gen != gen || c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.onStatus.emit(s)
}
