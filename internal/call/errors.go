package call

import (
	"errors"
	"fmt"
)

var (
	ErrPeerLeft         = errors.New("peer left the room")
	ErrSignaling        = errors.New("signaling relay error")
	ErrTimeout          = errors.New("timeout")
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrProbeFailed      = errors.New("connectivity probe failed")
	ErrConnectionFailed = errors.New("connection failed")
)

// Error records the operation that failed during a call.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
