package interfaces

import (
	"context"

	"proctorwire/pkg/types"
)

// DatabaseManager handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent write serialization and connection management
type DatabaseManager interface {
	// CreateSession stores a new session and its roster
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session and its roster by ID
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession updates status and end time
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListActiveSessions returns sessions that have not completed
	// TECHNICAL DISCOVERY: Used for cache warm-up and snapshot restore at startup
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// SaveSnapshot replaces the stored projections for a session
	// FUNCTIONAL DISCOVERY: One row per session; the newest snapshot wins
	SaveSnapshot(ctx context.Context, snapshot *types.ProjectionSnapshot) error

	// LoadSnapshot returns the stored projections, or ErrSnapshotNotFound
	LoadSnapshot(ctx context.Context, sessionID string) (*types.ProjectionSnapshot, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close stops the writer and closes the database
	Close() error
}
