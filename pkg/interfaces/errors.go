package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
