package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"proctorwire/internal/router"
	"proctorwire/internal/websocket"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

const (
	messageBuffer = 1000
	// cleanupInterval is how often idle rate limiter state is dropped.
	cleanupInterval = 5 * time.Minute
)

// rateLimitCleaner is implemented by routers that keep per-sender state.
type rateLimitCleaner interface {
	CleanupRateLimits() int
}

// Hub coordinates message routing and connection management
// ARCHITECTURAL DISCOVERY: Central coordination point for all message flow
// maintains clean separation between WebSocket handling and message routing
type Hub struct {
	// FUNCTIONAL DISCOVERY: Participant events share the message channel with
	// telemetry so supervisors see a join before anything the student sends
	messageChannel  chan *MessageContext // TECHNICAL DISCOVERY: 1000 buffer handles exam-start bursts
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry
	router   interfaces.MessageRouter

	running bool
	mu      sync.RWMutex
}

// MessageContext wraps a message with sender information.
// A nil Sender marks a relay-generated event for SessionID.
type MessageContext struct {
	Sender    *websocket.Connection
	SessionID string
	Message   types.Message
	Timestamp time.Time
}

// NewHub creates a new hub
func NewHub(registry *websocket.Registry, router interfaces.MessageRouter) *Hub {
	return &Hub{
		messageChannel:  make(chan *MessageContext, messageBuffer),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		registry:        registry,
		router:          router,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine preserves per-session message order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting message hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down and waits for the processing loop to exit.
// A stopped hub cannot be restarted.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	log.Println("Stopping message hub...")
	<-h.done
	return nil
}

// IsRunning reports whether the hub accepts messages.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// SendMessage queues a client message for routing
func (h *Hub) SendMessage(conn *websocket.Connection, message types.Message) error {
	return h.enqueue(&MessageContext{
		Sender:    conn,
		SessionID: conn.GetSessionID(),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// RegisterConnection adds conn to the registry and announces it to supervisors
// ARCHITECTURAL DISCOVERY: Registration is synchronous so the connection is
// routable before its first frame is read
func (h *Hub) RegisterConnection(conn *websocket.Connection) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	if err := h.registry.RegisterConnection(conn); err != nil {
		return err
	}
	log.Printf("Connection registered: user_id=%s role=%s session_id=%s",
		conn.GetUserID(), conn.GetRole(), conn.GetSessionID())

	joined := &types.ParticipantJoined{
		Student: types.Student{StudentID: conn.GetUserID()},
		Role:    conn.GetRole(),
	}
	if err := h.enqueueEvent(conn.GetSessionID(), joined); err != nil {
		log.Printf("Failed to announce participant: user_id=%s err=%v", conn.GetUserID(), err)
	}
	return nil
}

// UnregisterConnection removes conn and announces the disconnect
// FUNCTIONAL DISCOVERY: A connection that was already replaced is not
// announced; the user is still connected through the newer one
func (h *Hub) UnregisterConnection(conn *websocket.Connection, reason string) {
	if !h.registry.UnregisterConnection(conn) {
		return
	}
	log.Printf("Connection deregistered: user_id=%s session_id=%s reason=%q",
		conn.GetUserID(), conn.GetSessionID(), reason)

	left := &types.ParticipantDisconnected{
		Student: types.Student{StudentID: conn.GetUserID()},
		Role:    conn.GetRole(),
		Reason:  reason,
	}
	if err := h.enqueueEvent(conn.GetSessionID(), left); err != nil {
		log.Printf("Failed to announce disconnect: user_id=%s err=%v", conn.GetUserID(), err)
	}
}

func (h *Hub) enqueueEvent(sessionID string, message types.Message) error {
	return h.enqueue(&MessageContext{
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
func (h *Hub) enqueue(messageCtx *MessageContext) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.messageChannel <- messageCtx:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer log.Println("Hub processing stopped")

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case messageCtx := <-h.messageChannel:
			h.handleMessage(ctx, messageCtx)

		case <-cleanup.C:
			if cleaner, ok := h.router.(rateLimitCleaner); ok {
				if removed := cleaner.CleanupRateLimits(); removed > 0 {
					log.Printf("Rate limiter cleanup: removed=%d", removed)
				}
			}

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// handleMessage processes a message through the router
// TECHNICAL DISCOVERY: Router errors are logged and reported to the sender
// but never stop the hub
func (h *Hub) handleMessage(ctx context.Context, messageCtx *MessageContext) {
	if messageCtx.Sender == nil {
		if err := h.router.RouteEvent(ctx, messageCtx.SessionID, messageCtx.Message); err != nil {
			log.Printf("Event routing failed: type=%s session_id=%s err=%v",
				messageCtx.Message.MessageType(), messageCtx.SessionID, err)
		}
		return
	}

	if err := h.router.RouteMessage(ctx, messageCtx.Sender, messageCtx.Message); err != nil {
		log.Printf("Message routing failed: type=%s user_id=%s session_id=%s err=%v",
			messageCtx.Message.MessageType(), messageCtx.Sender.GetUserID(), messageCtx.SessionID, err)
		h.sendErrorToSender(messageCtx.Sender, err)
	}
}

// ErrorCode classifies a routing failure for the error message sent back.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, router.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, router.ErrUnauthorizedMessageType), errors.Is(err, router.ErrSenderNotAuthenticated):
		return "unauthorized"
	case errors.Is(err, types.ErrInvalidMessage):
		return "invalid_message"
	default:
		return "routing_failed"
	}
}

func (h *Hub) sendErrorToSender(sender *websocket.Connection, routingErr error) {
	msg := &types.Error{Code: ErrorCode(routingErr), Message: routingErr.Error()}
	types.Stamp(msg, sender.GetSessionID(), time.Now())
	if err := sender.Send(msg); err != nil {
		log.Printf("Failed to send error message: user_id=%s err=%v", sender.GetUserID(), err)
	}
}
