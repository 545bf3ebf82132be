package websocket

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// MessageSink receives decoded client messages and connection lifecycle events.
// ARCHITECTURAL DISCOVERY: The hub implements this; defining it here keeps the
// websocket package free of hub and router imports
type MessageSink interface {
	RegisterConnection(conn *Connection) error
	UnregisterConnection(conn *Connection, reason string)
	SendMessage(conn *Connection, message types.Message) error
}

// HandlerConfig holds heartbeat and buffering settings.
type HandlerConfig struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
}

// DefaultHandlerConfig returns a 30s ping with a 60s read deadline.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       defaultBufferSize,
	}
}

// Handler manages WebSocket connections and session validation
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic
// integrates with Registry for connection management and interfaces for external dependencies
type Handler struct {
	sessionManager interfaces.SessionManager
	sink           MessageSink
	config         HandlerConfig
	upgrader       websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(sessionManager interfaces.SessionManager, sink MessageSink, config HandlerConfig) *Handler {
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	return &Handler{
		sessionManager: sessionManager,
		sink:           sink,
		config:         config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// FUNCTIONAL DISCOVERY: Exam clients are served from other origins
				return true
			},
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// HandleWebSocket handles WebSocket connection requests
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> upgrade -> session -> registration).
// Malformed requests get an HTTP 400; session failures are reported after the
// upgrade as close codes, which browsers can read and HTTP statuses they cannot
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := query.Get("user_id")
	role := query.Get("role")
	sessionID := query.Get("session_id")

	if userID == "" || role == "" || sessionID == "" {
		http.Error(w, "Missing required query parameters: user_id, role, session_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'student' or 'supervisor'", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	wsConn := newConnection(conn, h.config.BufferSize, h.config.WriteTimeout)

	if err := h.sessionManager.ValidateSessionMembership(sessionID, userID, role); err != nil {
		code := membershipCloseCode(err)
		log.Printf("Connection rejected: user_id=%s role=%s session_id=%s code=%d err=%v", userID, role, sessionID, code, err)
		h.reject(wsConn, code)
		return
	}

	if err := wsConn.SetCredentials(userID, role, sessionID); err != nil {
		log.Printf("Failed to set credentials: %v", err)
		h.reject(wsConn, types.CloseApplicationError)
		return
	}

	if err := h.sink.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		h.reject(wsConn, types.CloseApplicationError)
		return
	}

	log.Printf("Connection accepted: user_id=%s role=%s session_id=%s", userID, role, sessionID)
	go h.handleConnection(wsConn)
}

// membershipCloseCode maps a validation error to the close code clients classify.
func membershipCloseCode(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return types.CloseSessionNotFound
	case errors.Is(err, interfaces.ErrSessionEnded):
		return types.CloseSessionEnded
	case errors.Is(err, interfaces.ErrUnauthorized):
		return types.CloseAccessDenied
	default:
		return types.CloseApplicationError
	}
}

// reject sends the close frame and waits for the client's reply.
func (h *Handler) reject(conn *Connection, code int) {
	_ = conn.CloseWithCode(code, types.CloseReason(code))
	_ = conn.conn.SetReadDeadline(time.Now().Add(closeGrace))
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			break
		}
	}
	_ = conn.Close()
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Single goroutine per connection reads frames; a
// second goroutine only sends ping control frames
func (h *Handler) handleConnection(conn *Connection) {
	reason := "connection lost"
	defer func() {
		h.sink.UnregisterConnection(conn, reason)
		_ = conn.Close()
	}()

	// TECHNICAL DISCOVERY: Read deadline of twice the ping interval detects
	// half-open TCP connections that never deliver a close frame
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				reason = types.CloseReason(closeErr.Code)
				if reason == "" {
					reason = closeErr.Text
				}
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: user_id=%s err=%v", conn.GetUserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		h.handleFrame(conn, data)
	}
}

func (h *Handler) handleFrame(conn *Connection, data []byte) {
	msg, err := types.Decode(data)
	if err != nil {
		h.sendError(conn, "malformed_message", err)
		return
	}

	// FUNCTIONAL DISCOVERY: Heartbeats are answered here and never reach the
	// hub; the echo lets the client measure round-trip latency
	if hb, ok := msg.(*types.Heartbeat); ok {
		pong := &types.Pong{Echo: hb.Timestamp}
		types.Stamp(pong, conn.GetSessionID(), time.Now())
		if err := conn.Send(pong); err != nil {
			log.Printf("Failed to send pong: user_id=%s err=%v", conn.GetUserID(), err)
		}
		return
	}

	if err := h.sink.SendMessage(conn, msg); err != nil {
		h.sendError(conn, "relay_unavailable", err)
	}
}

func (h *Handler) sendError(conn *Connection, code string, cause error) {
	msg := &types.Error{Code: code, Message: cause.Error()}
	types.Stamp(msg, conn.GetSessionID(), time.Now())
	if err := conn.Send(msg); err != nil {
		log.Printf("Failed to send error message: user_id=%s err=%v", conn.GetUserID(), err)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
