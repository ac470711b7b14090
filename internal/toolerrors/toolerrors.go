// Package toolerrors provides the structured error taxonomy shared by the
// transport, tool-client, supervisor, broker, and agent-loop packages. Every
// surfaced error carries a Kind so operators can distinguish configuration,
// infrastructure, and server-reported problems without string matching.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the closed error taxonomy. New kinds must be added here
// first; callers match on Kind rather than sentinel error values so wrapping
// and unwrapping stays cheap.
type Kind string

const (
	// ConfigInvalid marks a malformed config document or a descriptor that
	// violates an invariant (§3 ServerDescriptor invariants).
	ConfigInvalid Kind = "config_invalid"
	// ServerUnknown marks a reference to a server id absent from the
	// ConfigRegistry.
	ServerUnknown Kind = "server_unknown"
	// ServerDisabled marks a reference to a descriptor with enabled=false.
	ServerDisabled Kind = "server_disabled"
	// ServerUnavailable marks a managed server with no live ToolClient.
	ServerUnavailable Kind = "server_unavailable"
	// HandshakeFailed marks a failed ToolClient.Connect handshake.
	HandshakeFailed Kind = "handshake_failed"
	// ConnectionClosed marks a transport close observed mid-call.
	ConnectionClosed Kind = "connection_closed"
	// FrameParseError marks a transport framing/parse failure.
	FrameParseError Kind = "frame_parse_error"
	// TimedOut marks a deadline expiring before resolution.
	TimedOut Kind = "timed_out"
	// Cancelled marks a caller-supplied cancellation signal firing.
	Cancelled Kind = "cancelled"
	// ToolInvocationFailed marks a verbatim server-reported tool error.
	ToolInvocationFailed Kind = "tool_invocation_failed"
	// ArgumentsInvalid marks a server-reported parameter validation failure,
	// a refinement of ToolInvocationFailed the Agent Loop can treat
	// specially (SPEC_FULL §7).
	ArgumentsInvalid Kind = "arguments_invalid"
	// IterationCapReached marks the Agent Loop giving up at MaxToolIterations.
	IterationCapReached Kind = "iteration_cap_reached"
	// InternalMemoryError marks a memory collaborator failure.
	InternalMemoryError Kind = "internal_memory_error"
)

// Error is the structured error type surfaced across package boundaries. It
// implements errors.Is/As via Unwrap so callers can still test for an
// underlying stdlib/SDK error while reporting the Kind to operators.
type Error struct {
	Kind       Kind
	ServerID   string
	ToolName   string
	Underlying error
}

// New constructs an Error of the given kind whose Underlying is a plain
// error carrying msg.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Underlying: errors.New(msg)}
}

// Wrap constructs an Error of the given kind around an existing error,
// preserving the chain for errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		// Already a structured error; keep its context but let the caller
		// override Kind when it has more specific knowledge (e.g. the
		// Broker recognizing a connect failure the ToolClient only saw as
		// HandshakeFailed).
		return &Error{Kind: kind, ServerID: e.ServerID, ToolName: e.ToolName, Underlying: e}
	}
	return &Error{Kind: kind, Underlying: err}
}

// WithServer returns a copy of e annotated with a server id.
func (e *Error) WithServer(serverID string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.ServerID = serverID
	return &cp
}

// WithTool returns a copy of e annotated with a tool name.
func (e *Error) WithTool(toolName string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.ToolName = toolName
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.ServerID != "" {
		msg = fmt.Sprintf("%s: server=%s", msg, e.ServerID)
	}
	if e.ToolName != "" {
		msg = fmt.Sprintf("%s tool=%s", msg, e.ToolName)
	}
	if e.Underlying != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Underlying
}

// Is reports whether err carries the given Kind, looking through wrapping.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
