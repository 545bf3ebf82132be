package router

import "errors"

// Router-specific error types
var (
	ErrUnauthorizedMessageType = errors.New("user not authorized to send this message type")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrSenderNotAuthenticated  = errors.New("sender not authenticated")
	ErrMissingSession          = errors.New("message has no session")
)
