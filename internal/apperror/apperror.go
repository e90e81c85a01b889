// Package apperror holds the sentinel error kinds shared across the
// workflow, task, engine, and ingress packages: plain sentinel errors
// wrapped with %w and checked via errors.Is/errors.As, no custom
// panic/recover control flow.
package apperror

import (
	"errors"
	"fmt"
)

// ErrNotFound marks an unknown entity id. Never retried.
var ErrNotFound = errors.New("apperror: not found")

// ErrStateError marks an illegal state transition (e.g. resume a workflow
// that isn't paused, delete a non-terminal workflow).
var ErrStateError = errors.New("apperror: illegal state transition")

// ErrConfigurationError marks a fatal engine-level configuration problem
// (e.g. no execution strategy available for a workflow's strategy type).
var ErrConfigurationError = errors.New("apperror: configuration error")

// ErrTransportError marks a malformed inbound message; logged and dropped,
// never requeued.
var ErrTransportError = errors.New("apperror: transport error")

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// StateErrorf wraps ErrStateError with a formatted message.
func StateErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrStateError}, args...)...)
}

// ConfigurationErrorf wraps ErrConfigurationError with a formatted message.
func ConfigurationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConfigurationError}, args...)...)
}

// TransportErrorf wraps ErrTransportError with a formatted message.
func TransportErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrTransportError}, args...)...)
}
