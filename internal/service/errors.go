package service

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when the session's transport is not in an
// authenticated state. It is never retried.
var ErrNotAuthenticated = errors.New("transport not authenticated")

// SendFailedError reports an outbound send that did not succeed, either
// because the failure was not retryable or because the attempt ceiling was
// reached.
type SendFailedError struct {
	Attempts int
	Class    ErrorClass
	Cause    error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed after %d attempt(s) (%s): %v", e.Attempts, e.Class, e.Cause)
}

func (e *SendFailedError) Unwrap() error { return e.Cause }
