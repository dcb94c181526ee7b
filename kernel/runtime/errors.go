package runtime

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is returned by Start once Shutdown has begun.
var ErrShuttingDown = errors.New("runtime: shutting down")

// ValidationError rejects a request before any session work starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "runtime: invalid request"
	}
	if e.Field == "" {
		return "runtime: " + e.Message
	}
	return fmt.Sprintf("runtime: %s: %s", e.Field, e.Message)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// SessionBusyError indicates one session already has a running turn loop.
type SessionBusyError struct {
	SessionID string
}

func (e *SessionBusyError) Error() string {
	if e == nil {
		return "runtime: session is busy"
	}
	return fmt.Sprintf("runtime: session %q is busy", e.SessionID)
}

func IsSessionBusy(err error) bool {
	var target *SessionBusyError
	return errors.As(err, &target)
}
