package flow_errors

import (
	"errors"
	"time"
)

// Common errors. Each one maps to a kind in the HTTP error envelope.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCondition   = errors.New("invalid condition")
	ErrEvalError          = errors.New("evaluation error")
	ErrActionFailed       = errors.New("action failed")
	ErrUnknownAction      = errors.New("unknown action")
	ErrNotImplemented     = errors.New("not implemented")
	ErrTimeout            = errors.New("timeout")
	ErrNoWork             = errors.New("no work")
	ErrAlreadyExists      = errors.New("already exists")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
