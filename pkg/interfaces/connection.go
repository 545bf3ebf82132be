package interfaces

import "proctorwire/pkg/types"

// Connection represents one participant's WebSocket connection to the relay.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and routing logic
type Connection interface {
	// Send queues a message for the client (thread-safe)
	// FUNCTIONAL DISCOVERY: All implementations use the single-writer pattern
	Send(m types.Message) error

	// Close drops the connection without a close frame
	Close() error

	// CloseWithCode sends a close frame with an application code, then closes
	// ARCHITECTURAL DISCOVERY: Clients classify 4000-4004 as non-retryable,
	// so every server-initiated termination goes through this method
	CloseWithCode(code int, reason string) error

	// GetUserID returns the connected user's ID
	GetUserID() string

	// GetRole returns "student" or "supervisor"
	GetRole() string

	// GetSessionID returns the session ID this connection belongs to
	GetSessionID() string

	// IsAuthenticated returns true once session membership was validated
	IsAuthenticated() bool

	// SetCredentials sets user credentials after validation
	// TECHNICAL DISCOVERY: Separate step allows the WebSocket upgrade to
	// happen before validation, so failures can be reported as close codes
	SetCredentials(userID, role, sessionID string) error
}
