package interfaces

import (
	"context"

	"proctorwire/pkg/types"
)

// SessionManager handles session lifecycle operations
// ARCHITECTURAL DISCOVERY: Context-first design pattern ensures proper
// cancellation and timeout handling across all session operations
type SessionManager interface {
	// CreateSession creates a new session with its student roster
	CreateSession(ctx context.Context, name string, createdBy string, studentIDs []string) (*types.Session, error)

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// EndSession completes a session and closes every connection in it
	// FUNCTIONAL DISCOVERY: Participants receive session_completed before
	// the close frame so clients can tell completion from a network drop
	EndSession(ctx context.Context, sessionID string, reason string) error

	// SetStatus pauses or resumes an active session
	SetStatus(ctx context.Context, sessionID string, status string) error

	// ListActiveSessions returns all sessions that have not completed
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// ValidateSessionMembership checks if a user can join a session
	// ARCHITECTURAL DISCOVERY: Returns ErrSessionNotFound, ErrSessionEnded or
	// ErrUnauthorized so the handler can map each to its close code
	ValidateSessionMembership(sessionID, userID, role string) error

	// KickStudent closes a student's connection with the replaced code
	KickStudent(ctx context.Context, sessionID, studentID string) error
}
