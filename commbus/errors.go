package commbus

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoHandler means a query has no registered handler.
	ErrNoHandler = errors.New("no handler registered")
	// ErrHandlerExists means a second handler was registered for a query type.
	ErrHandlerExists = errors.New("handler already registered")
	// ErrQueryTimeout means a query handler did not answer in time.
	ErrQueryTimeout = errors.New("query timed out")
)

// Error is a bus failure for one message type. It matches its sentinel
// with errors.Is.
type Error struct {
	MessageType string
	Timeout     time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: %s after %s", e.MessageType, e.Err, e.Timeout)
	}
	return fmt.Sprintf("%s: %s", e.MessageType, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func busError(messageType string, err error) *Error {
	return &Error{MessageType: messageType, Err: err}
}
