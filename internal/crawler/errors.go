package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a topic or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited marks upstream responses consistent with throttling or a stale protocol id.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient marks network failures that may be retried without re-seeding.
	ErrTransient = errors.New("transient network error")
	// ErrStoreUnavailable marks systemic persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTopicExists is returned when registering a topic twice.
	ErrTopicExists = errors.New("topic already registered")
	// ErrQueueClosed is returned by a closed and drained candidate queue.
	ErrQueueClosed = errors.New("queue closed")
)

// SeedError reports a failed bootstrap for a topic.
type SeedError struct {
	Topic string
	Err   error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed topic %q: %v", e.Topic, e.Err)
}

func (e *SeedError) Unwrap() error { return e.Err }

// FatalTopicError is returned when a topic exhausts its retry budget.
type FatalTopicError struct {
	Topic    string
	Attempts int
	Err      error
}

func (e *FatalTopicError) Error() string {
	return fmt.Sprintf("topic %q halted after %d attempts: %v", e.Topic, e.Attempts, e.Err)
}

func (e *FatalTopicError) Unwrap() error { return e.Err }

// SkipError marks a candidate that produced no Post. It is an expected outcome.
type SkipError struct {
	Reason SkipReason
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err == nil {
		return "skip: " + string(e.Reason)
	}
	return fmt.Sprintf("skip: %s: %v", e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

// Skip builds a SkipError.
func Skip(reason SkipReason, err error) error {
	return &SkipError{Reason: reason, Err: err}
}

// SkipReasonOf returns the skip reason carried by err, if any.
func SkipReasonOf(err error) (SkipReason, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip.Reason, true
	}
	return "", false
}
