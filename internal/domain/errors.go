package domain

import (
	"errors"
	"fmt"
)

// Domain-level errors
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSerialization    = errors.New("serialization error")
	ErrReservedField    = errors.New("metadata key collides with a reserved field")
	ErrNoMessage        = errors.New("no message found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// StoreError reports a failed store operation.
// It matches both ErrStoreUnavailable and the underlying cause with errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// NewStoreError wraps err as a StoreError, returning nil for a nil err
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// HandlerFailure records a handler that returned an error or panicked.
// It is attached to the delivered message and never returned by Consume.
type HandlerFailure struct {
	MessageID string
	Err       error
	Panic     any
}

func (f *HandlerFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("handler panicked on message %s: %v", f.MessageID, f.Panic)
	}
	return fmt.Sprintf("handler failed on message %s: %v", f.MessageID, f.Err)
}

func (f *HandlerFailure) Unwrap() error {
	return f.Err
}
