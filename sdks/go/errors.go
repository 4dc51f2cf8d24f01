package agentrelay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC error codes the gateway emits for session resolution failures.
const (
	codeSessionNotFound = -32001
	codeSessionExpired  = -32002
)

// Sentinel errors for use with errors.Is().
var (
	// ErrSessionNotFound is returned when the tracked session id no
	// longer resolves on the gateway.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session lapsed before the
	// call. It matches ErrSessionNotFound under errors.Is.
	ErrSessionExpired = errors.New("session expired")

	// ErrServerUnreachable is returned when the gateway cannot be
	// contacted.
	ErrServerUnreachable = errors.New("server unreachable")
)

// RPCError is a JSON-RPC error returned by the gateway.
type RPCError struct {
	// Code is the JSON-RPC error code.
	Code int `json:"code"`
	// Message is the short error description.
	Message string `json:"message"`
	// Data carries optional structured detail.
	Data json.RawMessage `json:"data,omitempty"`
}

// Error returns a human-readable description of the RPC error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is reports whether this error matches the target sentinel. Session
// errors match both flavors so callers can treat expiry as a special
// case of not-found.
func (e *RPCError) Is(target error) bool {
	switch e.Code {
	case codeSessionExpired:
		return target == ErrSessionExpired || target == ErrSessionNotFound
	case codeSessionNotFound:
		return target == ErrSessionNotFound
	}
	return false
}

// ServerUnreachableError is returned when the gateway cannot be contacted.
type ServerUnreachableError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
