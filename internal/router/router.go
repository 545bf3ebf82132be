package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"proctorwire/internal/clock"
	"proctorwire/internal/websocket"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Observer sees every message the router delivers, in delivery order.
// The session monitor implements it.
type Observer interface {
	Observe(sessionID string, message types.Message)
}

// Option configures a Router.
type Option func(*Router)

// WithClock replaces the wall clock used for stamping and rate limiting.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithRateLimit sets the per-student message allowance.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(r *Router) { r.limit, r.window = limit, window }
}

// WithObserver attaches the session monitor.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// Router implements the MessageRouter interface
// ARCHITECTURAL DISCOVERY: Pure routing logic without session management or connection handling
// maintains clean separation between routing decisions and message delivery mechanisms
type Router struct {
	registry    *websocket.Registry
	observer    Observer
	rateLimiter *RateLimiter
	clock       clock.Clock
	limit       int
	window      time.Duration
}

// NewRouter creates a new message router
func NewRouter(registry *websocket.Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		clock:    clock.Real(),
		limit:    100,
		window:   time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.rateLimiter = NewRateLimiter(r.limit, r.window, r.clock)
	return r
}

// SetObserver attaches the session monitor after construction.
func (r *Router) SetObserver(o Observer) {
	r.observer = o
}

// RouteMessage validates, stamps and delivers a participant's message
// FUNCTIONAL DISCOVERY: The relay overwrites student_id, session_id and
// timestamp from the authenticated connection; clients cannot spoof them
func (r *Router) RouteMessage(ctx context.Context, sender interfaces.Connection, message types.Message) error {
	if err := r.ValidateMessage(sender, message); err != nil {
		return err
	}

	sessionID := sender.GetSessionID()
	userID := sender.GetUserID()

	// TECHNICAL DISCOVERY: Rate limiting keyed by session and user so one
	// student in two sessions does not share an allowance
	if rateLimited(message) && !r.rateLimiter.Allow(sessionID+"/"+userID) {
		return fmt.Errorf("%w: %d messages per %v", ErrRateLimitExceeded, r.limit, r.window)
	}

	if sm, ok := message.(types.StudentMessage); ok {
		sm.Subject().StudentID = userID
	}
	types.Restamp(message, sessionID, r.clock.Now())

	r.deliver(ctx, sessionID, message)
	return nil
}

// rateLimited reports whether message counts against the sender's allowance.
// FUNCTIONAL DISCOVERY: Answers, violations and submissions are scored or
// integrity records and always go through; only the chatty telemetry
// (progress, highlights) is throttled
func rateLimited(message types.Message) bool {
	switch message.(type) {
	case *types.StudentAnswer, *types.Violation, *types.StudentSubmitted:
		return false
	default:
		return true
	}
}

// RouteEvent delivers a relay-generated message to a session's supervisors
func (r *Router) RouteEvent(ctx context.Context, sessionID string, message types.Message) error {
	if sessionID == "" {
		return ErrMissingSession
	}
	types.Stamp(message, sessionID, r.clock.Now())
	r.deliver(ctx, sessionID, message)
	return nil
}

// deliver feeds the observer first so the server-side projection never lags
// what supervisors have seen
func (r *Router) deliver(ctx context.Context, sessionID string, message types.Message) {
	if r.observer != nil {
		r.observer.Observe(sessionID, message)
	}

	// FUNCTIONAL DISCOVERY: Continue delivery to other recipients even if one fails
	for _, conn := range r.GetRecipients(sessionID, message) {
		if ctx.Err() != nil {
			return
		}
		if err := conn.Send(message); err != nil {
			log.Printf("Failed to deliver message: type=%s to=%s session_id=%s err=%v",
				message.MessageType(), conn.GetUserID(), sessionID, err)
		}
	}
}

// GetRecipients returns the supervisors of a session
// ARCHITECTURAL DISCOVERY: Every routed message is student telemetry or a
// participant event, and both are for supervisors only
func (r *Router) GetRecipients(sessionID string, message types.Message) []interfaces.Connection {
	return websocket.AsInterfaces(r.registry.GetSessionSupervisors(sessionID))
}

// ValidateMessage validates message content and sender permissions
func (r *Router) ValidateMessage(sender interfaces.Connection, message types.Message) error {
	if sender == nil || !sender.IsAuthenticated() {
		return ErrSenderNotAuthenticated
	}
	if sender.GetRole() != types.RoleStudent || !types.IsStudentOriginated(message) {
		return fmt.Errorf("%w: role=%s type=%s", ErrUnauthorizedMessageType, sender.GetRole(), message.MessageType())
	}
	return types.ValidateStudentMessage(message)
}

// CleanupRateLimits drops idle rate limiter state
func (r *Router) CleanupRateLimits() int {
	return r.rateLimiter.Cleanup()
}
