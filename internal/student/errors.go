package student

import "errors"

var (
	ErrNotStarted      = errors.New("attempt not started")
	ErrAlreadyFinished = errors.New("attempt already finished")
)
