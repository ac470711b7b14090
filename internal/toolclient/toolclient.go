// Package toolclient drives one logical session over a transport.Transport:
// handshake, request/response correlation, deadline enforcement, and
// cooperative cancellation, per §4.B.
package toolclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentbroker/runtime/internal/rpc"
	"github.com/agentbroker/runtime/internal/telemetry"
	"github.com/agentbroker/runtime/internal/toolerrors"
	"github.com/agentbroker/runtime/internal/transport"
)

// State is the ToolClient's lifecycle position, per §4.B's state machine.
type State string

const (
	StateNew        State = "new"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
	StateClosed     State = "closed"
)

// ToolResult is the structured outcome of one CallTool, mirrored into
// Agent Loop tool-role messages by the caller.
type ToolResult struct {
	Status     string
	Data       json.RawMessage
	Message    string
	Retryable  bool
	SchemaHint string
}

type waiter struct {
	ch chan waiterOutcome
}

type waiterOutcome struct {
	result ToolResult
	err    error
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithLogger(l telemetry.Logger) Option   { return func(c *Client) { c.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(c *Client) { c.metrics = m } }

// Client is one ToolClient: owns exactly one transport.Transport.
type Client struct {
	serverID  string
	transport transport.Transport

	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu      sync.Mutex
	state   State
	nextID  uint64
	pending map[uint64]*waiter
}

// New constructs a Client around t. Connect must be called before CallTool.
func New(serverID string, t transport.Transport, opts ...Option) *Client {
	c := &Client{
		serverID:  serverID,
		transport: t,
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
		state:     StateNew,
		pending:   make(map[uint64]*waiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect completes the session handshake. This protocol has no initialize
// exchange (§6 names only callTool request/response), so Connect reduces to
// starting the transport; any spawn/dial failure is HandshakeFailed.
func (c *Client) Connect(ctx context.Context, deadline time.Duration) error {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return toolerrors.New(toolerrors.ConfigInvalid, "Connect called twice").WithServer(c.serverID)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.transport.OnError(func(err error) {
		c.logger.Warn(ctx, "tool client transport error", "server", c.serverID, "error", err.Error())
	})
	c.transport.OnClose(func() { c.handleClose() })

	startCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	if err := c.transport.Start(startCtx); err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		if startCtx.Err() != nil {
			return toolerrors.New(toolerrors.TimedOut, "connect deadline exceeded").WithServer(c.serverID)
		}
		return toolerrors.Wrap(toolerrors.HandshakeFailed, err).WithServer(c.serverID)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()
	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	for {
		frame, err := c.transport.Receive()
		if err != nil {
			c.handleClose()
			return
		}
		resp, derr := rpc.Decode(frame)
		if derr != nil {
			c.logger.Warn(context.Background(), "dropping unparsable frame", "server", c.serverID, "error", derr.Error())
			continue
		}
		c.mu.Lock()
		w, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			// Unmatched correlation id: the response is logged and
			// dropped; no option makes this fatal.
			c.logger.Warn(context.Background(), "dropping unmatched response", "server", c.serverID, "id", resp.ID)
			continue
		}
		if resp.Error != nil {
			w.ch <- waiterOutcome{err: classifyServerError(c.serverID, resp.Error)}
			continue
		}
		w.ch <- waiterOutcome{result: ToolResult{Status: "success", Data: resp.Result}}
	}
}

// classifyServerError distinguishes a parameter-validation failure
// (ArgumentsInvalid) from a generic ToolInvocationFailed, grounded on the
// teacher's retry package treating JSON-RPC "invalid params" (-32602) errors
// specially to drive an LLM repair prompt.
func classifyServerError(serverID string, rpcErr *rpc.Error) *toolerrors.Error {
	const invalidParams = -32602
	kind := toolerrors.ToolInvocationFailed
	if rpcErr.Code == invalidParams {
		kind = toolerrors.ArgumentsInvalid
	}
	return toolerrors.New(kind, rpcErr.Message).WithServer(serverID)
}

// CallTool assigns a fresh correlation id, writes one request frame, and
// waits for the matching response, deadline, or cancellation — whichever
// resolves first. Deadline enforcement happens here, at the waiter, not in
// the Transport, so a late reply never races the caller (§4.B).
func (c *Client) CallTool(ctx context.Context, name string, arguments any, deadline time.Duration) (ToolResult, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ToolResult{}, toolerrors.New(toolerrors.ConnectionClosed, "tool client not connected").WithServer(c.serverID).WithTool(name)
	}
	c.nextID++
	id := c.nextID
	w := &waiter{ch: make(chan waiterOutcome, 1)}
	c.pending[id] = w
	c.mu.Unlock()

	req, err := rpc.NewCallRequest(id, name, arguments)
	if err != nil {
		c.removePending(id)
		return ToolResult{}, toolerrors.Wrap(toolerrors.ArgumentsInvalid, err).WithServer(c.serverID).WithTool(name)
	}
	raw, err := rpc.Encode(req)
	if err != nil {
		c.removePending(id)
		return ToolResult{}, toolerrors.Wrap(toolerrors.ArgumentsInvalid, err).WithServer(c.serverID).WithTool(name)
	}
	if err := c.transport.Send(raw); err != nil {
		c.removePending(id)
		return ToolResult{}, toolerrors.Wrap(toolerrors.ConnectionClosed, err).WithServer(c.serverID).WithTool(name)
	}

	callCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	select {
	case outcome := <-w.ch:
		if outcome.err != nil {
			return ToolResult{}, outcome.err
		}
		return outcome.result, nil
	case <-callCtx.Done():
		c.removePending(id)
		if ctx.Err() == nil {
			return ToolResult{}, toolerrors.New(toolerrors.TimedOut, "tool call deadline exceeded").WithServer(c.serverID).WithTool(name)
		}
		return ToolResult{}, toolerrors.New(toolerrors.Cancelled, "tool call cancelled").WithServer(c.serverID).WithTool(name)
	}
}

func (c *Client) removePending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// handleClose fires when the transport observes the remote end close mid
// session. It moves the client to the terminal closed state (§3's
// connected/degraded →(Disconnect|OnClose)→ closed), fails every
// outstanding call with ConnectionClosed, and does not attempt
// reconnection — that is the Broker/Supervisor's concern.
func (c *Client) handleClose() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	pending := c.pending
	c.pending = make(map[uint64]*waiter)
	c.mu.Unlock()

	for _, w := range pending {
		w.ch <- waiterOutcome{err: toolerrors.New(toolerrors.ConnectionClosed, "transport closed").WithServer(c.serverID)}
	}
}

// Disconnect is idempotent: it transitions to closed and cancels every
// outstanding call with Cancelled.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	pending := c.pending
	c.pending = make(map[uint64]*waiter)
	c.mu.Unlock()

	for _, w := range pending {
		w.ch <- waiterOutcome{err: toolerrors.New(toolerrors.Cancelled, "client disconnected").WithServer(c.serverID)}
	}
	return c.transport.Close()
}
