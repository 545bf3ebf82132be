package session

import (
	"errors"

	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Membership errors are the interface sentinels so the WebSocket handler can
// map them to close codes.
var (
	ErrSessionNotFound = interfaces.ErrSessionNotFound
	ErrSessionEnded    = interfaces.ErrSessionEnded
	ErrUnauthorized    = interfaces.ErrUnauthorized
	ErrInvalidRole     = types.ErrInvalidRole

	ErrInvalidStudentID    = errors.New("invalid student ID format")
	ErrSessionAlreadyEnded = errors.New("session is already ended")
	ErrInvalidStatus       = errors.New("status must be 'active' or 'paused'")
	ErrStudentNotInSession = errors.New("student is not on the session roster")
)
