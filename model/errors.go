package model

import (
	"context"
	"fmt"
	"time"
)

// ConfigurationError indicates an invalid space or pattern setup.
// It is fatal at startup and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// DimensionMismatchError indicates a vector whose length does not match the
// fixed dimension of the space it was meant for. It is never coerced and
// never retried.
type DimensionMismatchError struct {
	Context string
	Want    int
	Got     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: want %d, got %d", e.Context, e.Want, e.Got)
}

// NotFoundError indicates an unknown space, pattern or document.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// BackendUnavailableError indicates a network or connection failure talking
// to an embedding or generation backend. Callers may retry with backoff.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// RateLimitError indicates the backend throttled the request. Callers may
// retry with backoff, after RetryAfter when the backend reported one.
type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("backend %s rate limited (retry after %s): %v", e.Backend, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("backend %s rate limited: %v", e.Backend, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a backend call exceeded its configured timeout.
type TimeoutError struct {
	Backend string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %s timed out: %v", e.Backend, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is reports context.DeadlineExceeded as a match so callers can check either.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// InvalidInputError indicates empty or oversized input text.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// InvalidPatternError indicates a pattern that cannot currently be used,
// typically because its embedding space is missing or empty.
type InvalidPatternError struct {
	PatternID string
	Reason    string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("pattern %q invalid: %s", e.PatternID, e.Reason)
}

// RetrievalError wraps an embedding or search failure during retrieval.
// The typed cause stays reachable through errors.As.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}
