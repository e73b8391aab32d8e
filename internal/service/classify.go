package service

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorClass is the outcome of classifying a transport send failure.
type ErrorClass string

const (
	ClassTimeout    ErrorClass = "timeout"
	ClassSyncDesync ErrorClass = "sync_desync"
	ClassRejected   ErrorClass = "rejected"
	ClassUnknown    ErrorClass = "unknown"
)

// Retryable reports whether a failure of this class may succeed on a later
// attempt.
func (c ErrorClass) Retryable() bool {
	return c == ClassTimeout || c == ClassSyncDesync
}

// codedError is implemented by transport errors that carry a machine code.
type codedError interface {
	ErrorCode() string
}

var (
	syncSignatures = []string{
		"bad mac",
		"no session",
		"session not found",
		"out of sync",
		"desync",
		"sessionerror",
	}
	timeoutSignatures = []string{
		"timed out",
		"timeout",
		"deadline exceeded",
	}
	rejectSignatures = []string{
		"rejected",
		"not-acceptable",
		"forbidden",
		"unauthorized",
		"logged out",
		"invalid",
		"not found",
		"bad request",
	}
)

// ClassifyError maps a transport error to an ErrorClass. Typed signals are
// consulted first, then the error text.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, context.Canceled) {
		return ClassRejected
	}

	var coded codedError
	if errors.As(err, &coded) {
		switch strings.ToLower(coded.ErrorCode()) {
		case "timeout":
			return ClassTimeout
		case "sync", "sync_desync":
			return ClassSyncDesync
		case "rejected", "invalid_recipient", "bad_request", "forbidden", "logged_out":
			return ClassRejected
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	// Sync signatures are checked before timeouts: a desynced session often
	// surfaces as a timeout whose text names the session error.
	if containsAny(msg, syncSignatures) {
		return ClassSyncDesync
	}
	if containsAny(msg, timeoutSignatures) {
		return ClassTimeout
	}
	if containsAny(msg, rejectSignatures) {
		return ClassRejected
	}
	return ClassUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
