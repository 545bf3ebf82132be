package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionName = errors.New("session name must be 1-200 characters")
	ErrEmptyStudentList   = errors.New("student list cannot be empty")
	ErrInvalidCreatedBy   = errors.New("created_by must be valid user ID")
	ErrInvalidRole        = errors.New("role must be 'student' or 'supervisor'")

	ErrMalformedMessage  = errors.New("malformed message")
	ErrMissingType       = errors.New("message has no type")
	ErrInvalidMessage    = errors.New("invalid message content")
	ErrNotStudentMessage = errors.New("message type cannot be sent by a student")
)
