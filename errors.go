package mcpeek

import (
	"fmt"
	"time"
)

// ConnectionError reports that the communication channel itself is unusable: a failed dial
// or spawn, a broken pipe, an unexpected process exit, or a TLS failure. A ConnectionError
// fails every call sharing the connection; no automatic retry is performed.
type ConnectionError struct {
	// Op names the operation that observed the failure, e.g. "dial", "spawn", "send".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection failed during %s", e.Op)
	}
	return fmt.Sprintf("connection failed during %s: %v (no automatic retry was performed)", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a violation of the MCP protocol: a malformed message, a version
// mismatch, or an operation invoked outside the Ready state.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// ApplicationError carries a JSON-RPC error returned by the server for a specific call,
// other than method-not-found. Code, Message and Data pass through verbatim.
type ApplicationError struct {
	Code    int
	Message string
	Data    map[string]any
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// CapabilityError reports that the server answered a request with method-not-found,
// meaning the capability family behind Method is not supported. DiscoveryEngine treats
// this as an absent family; direct execution surfaces it to the caller.
type CapabilityError struct {
	Method string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("method %q not supported by server", e.Method)
}

// TimeoutError reports that a single call's deadline elapsed before the server responded.
// Other calls sharing the connection are unaffected.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to %s within %s", e.Method, e.Timeout)
}

// ValidationError reports that local argument validation failed before any network call
// was made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}
