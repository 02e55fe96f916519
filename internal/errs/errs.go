// Package errs defines the error taxonomy shared by the traffic and
// repricing core. Kinds are distinguished by type, not by string
// matching, so callers can use errors.As.
package errs

import "fmt"

// ConfigError signals invalid market parameters or unparseable bucket
// configuration. Fatal at component construction.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransientRemoteError wraps an HTTP 429 or 5xx response. The traffic
// controller retries a 429 up to three times before surfacing it; a
// 5xx surfaces on its first occurrence, without a retry.
type TransientRemoteError struct {
	StatusCode int
	Body       string
}

func (e *TransientRemoteError) Error() string {
	return fmt.Sprintf("transient remote error: status=%d", e.StatusCode)
}

// PermanentRemoteError wraps a non-429 4xx response. Never retried.
type PermanentRemoteError struct {
	StatusCode int
	Body       string
}

func (e *PermanentRemoteError) Error() string {
	return fmt.Sprintf("permanent remote error: status=%d", e.StatusCode)
}

// NetworkError wraps a connection/DNS failure. Logged and surfaced;
// not retried by the core.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string { return "network error: " + e.Cause.Error() }
func (e *NetworkError) Unwrap() error { return e.Cause }

// DataError signals missing listing metadata, missing pricing
// parameters, or an unresolvable floor. Orchestrator-level: skip the
// offending unit of work with a warning, never abort the whole cycle.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string { return "data error: " + e.Msg }

func NewDataError(format string, args ...any) *DataError {
	return &DataError{Msg: fmt.Sprintf(format, args...)}
}

// CancelledError signals shutdown or deadline expiry.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string { return "cancelled: " + e.Reason }
