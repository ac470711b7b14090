// Package transport implements the two uniform send/recv variants named in
// §4.A: a stdio child process exchanging line-delimited JSON frames, and an
// SSE HTTP stream exchanging event-framed JSON frames. Frames are opaque
// byte slices here; ToolClient owns their meaning.
package transport

import "context"

// Transport is the capability set a ToolClient drives a session over.
// Implementations must not silently drop frames: framing errors are
// reported through the OnError hook.
type Transport interface {
	// Start begins the session (spawns the child, or prepares the HTTP
	// client). Spawning/setup failures are returned directly and also
	// fire OnError; no Send is permitted before Start succeeds.
	Start(ctx context.Context) error

	// Send writes one frame. Safe for concurrent use.
	Send(frame []byte) error

	// Receive blocks for the next inbound frame. It returns an error when
	// the underlying stream ends or fails to parse framing; callers
	// should treat any error as terminal for this Transport.
	Receive() ([]byte, error)

	// Close tears the session down. Idempotent.
	Close() error

	// OnError registers a hook invoked when the transport observes an
	// asynchronous fault (spawn failure, framing error) outside of a
	// Send/Receive call already in progress. Must be called before Start.
	OnError(fn func(error))

	// OnClose registers a hook invoked exactly once when the transport
	// observes the remote end close (child exit, stream EOF). Must be
	// called before Start.
	OnClose(fn func())
}
