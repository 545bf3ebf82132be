package interfaces

import (
	"context"

	"proctorwire/pkg/types"
)

// MessageRouter handles message routing between participants
// ARCHITECTURAL DISCOVERY: Routing logic abstracted from message delivery
// enables different routing strategies and simplifies testing with mocks
type MessageRouter interface {
	// RouteMessage validates, stamps and delivers a message sent by a participant
	// FUNCTIONAL DISCOVERY: Sender identity comes from the connection, never
	// from the payload, so student_id and session_id are trusted downstream
	RouteMessage(ctx context.Context, sender Connection, message types.Message) error

	// RouteEvent delivers a relay-generated message to a session's supervisors
	RouteEvent(ctx context.Context, sessionID string, message types.Message) error

	// GetRecipients determines recipients for a message in a session
	// ARCHITECTURAL DISCOVERY: Recipient calculation separated from delivery
	// enables testing routing logic without actual message delivery
	GetRecipients(sessionID string, message types.Message) []Connection

	// ValidateMessage validates message content and sender permissions
	ValidateMessage(sender Connection, message types.Message) error
}
