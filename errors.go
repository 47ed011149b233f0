package recall

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError reports a missing resource (job, fact).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError reports rejected input (bad query, empty conversation,
// out-of-range limit, unknown role, illegal job transition).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// TransientError wraps a failure that is expected to succeed on retry:
// store timeouts, queue disconnects, LLM rate limits. Eligible for
// retry-with-backoff and for queue requeue.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that will recur on every attempt:
// auth failures, malformed responses, messages referencing missing jobs.
// Never requeued.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// ErrCircuitOpen is returned when a circuit breaker fails fast without
// invoking the wrapped call.
var ErrCircuitOpen = errors.New("circuit open")

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsTransient reports whether err should be retried or requeued.
// Deadline expiry counts as transient: the collaborator may well answer
// next time.
func IsTransient(err error) bool {
	var e *TransientError
	if errors.As(err, &e) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err must not be retried or requeued.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return IsNotFound(err)
}
