package controller

import "errors"

var (
	ErrNotConnected       = errors.New("connection is not open")
	ErrAlreadyConnected   = errors.New("controller already has a connection")
	ErrMissingSession     = errors.New("session id is required")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidPayload     = errors.New("payload must encode to a JSON object")
	ErrWriteTimeout       = errors.New("write timeout")
)
