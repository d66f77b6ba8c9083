package coopsched

import (
	"fmt"
)

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] / [errors.As] to see through a recovered panic to
// its cause. If the panic Value is not an error, Unwrap returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TimeoutError reports that a Future did not settle before a deadline.
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// WrapError wraps cause with an additional message, preserving it for
// errors.Is/errors.As via %w.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
