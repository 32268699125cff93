package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnhealthy is a sentinel used to signal that the backend is unhealthy/unavailable.
// Quota callers map it to fail-closed behavior: deny availability checks, report
// usage recording as not recorded.
var ErrUnhealthy = errors.New("backend unhealthy")

// HealthError wraps an underlying cause with operation context.
// Use for connectivity/auth/TLS/unavailability issues.
type HealthError struct {
	Op    string // logical operation context, e.g. "redis:Eval", "postgres:Ping"
	Cause error  // underlying error returned by driver/client
}

// Error returns a formatted message including the operation context and cause.
func (e *HealthError) Error() string {
	if e == nil {
		return ErrUnhealthy.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", ErrUnhealthy, e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %v", ErrUnhealthy, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *HealthError) Unwrap() error { return e.Cause }

// Is implements errors.Is to allow matching against the ErrUnhealthy sentinel.
func (e *HealthError) Is(target error) bool {
	return target == ErrUnhealthy
}

// NewHealthError wraps a cause as a health error with context.
// If cause is nil, the sentinel ErrUnhealthy is returned.
func NewHealthError(op string, cause error) error {
	if cause == nil {
		return ErrUnhealthy
	}
	return &HealthError{Op: op, Cause: cause}
}

// IsHealthError reports whether err indicates the backend is unhealthy.
func IsHealthError(err error) bool {
	if errors.Is(err, ErrUnhealthy) {
		return true
	}
	var he *HealthError
	return errors.As(err, &he)
}

// MaybeConnError classifies err as a connectivity issue using the provided patterns.
//
// patterns contains lowercase string fragments matched against the error message.
// Context cancellation and deadline errors always classify as health errors since a
// timed-out store operation must never be treated as having succeeded.
// Returns a HealthError on a match, otherwise the original error.
func MaybeConnError(op string, err error, patterns []string) error {
	if err == nil {
		return nil
	}

	if patterns != nil {
		errStr := strings.ToLower(err.Error())
		for _, pattern := range patterns {
			if strings.Contains(errStr, pattern) {
				return NewHealthError(op, err)
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return NewHealthError(op, err)
	}

	return err
}
