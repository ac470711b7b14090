// Package broker implements the Tool-Broker's public facade (§4.D): resolve
// a server by id, route to the Supervisor for managed servers or spin up a
// scoped per-call ToolClient for unmanaged ones, apply bounded reconnect
// retry and adaptive rate limiting, and expose config validation /
// connectivity probing.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentbroker/runtime/internal/config"
	"github.com/agentbroker/runtime/internal/supervisor"
	"github.com/agentbroker/runtime/internal/telemetry"
	"github.com/agentbroker/runtime/internal/toolclient"
	"github.com/agentbroker/runtime/internal/toolerrors"
	"github.com/agentbroker/runtime/internal/transport"
)

// InvokeOptions tunes one Invoke call.
type InvokeOptions struct {
	// Timeout bounds the call itself (ToolClient.CallTool's deadline). Zero
	// means no deadline beyond ctx.
	Timeout time.Duration
	// AllowReconnect enables per-call connect retry for the unmanaged path.
	// Defaults to true.
	AllowReconnect *bool
}

func (o InvokeOptions) allowReconnect() bool {
	return o.AllowReconnect == nil || *o.AllowReconnect
}

// Options tunes the Broker's policies. Zero values fall back to spec
// defaults.
type Options struct {
	MaxReconnectAttempts int           // default 3
	ReconnectDelay       time.Duration // default 2s
	ConnectDeadline      time.Duration // default 10s, used for per-call connects

	// RateLimitBudget and RateLimitMaxBudget configure the adaptive
	// rate limiter's initial and maximum tokens-per-period budget. Zero
	// disables neither; newAdaptiveRateLimiter applies its own defaults.
	RateLimitBudget    float64
	RateLimitMaxBudget float64
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 3
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.ConnectDeadline <= 0 {
		o.ConnectDeadline = 10 * time.Second
	}
	return o
}

// Option configures a Broker at construction time.
type Option func(*Broker)

func WithLogger(l telemetry.Logger) Option   { return func(b *Broker) { b.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(b *Broker) { b.metrics = m } }

// Broker is the public facade consumed by the Agent Loop, admin tooling, and
// tests.
type Broker struct {
	registry   *config.Registry
	supervisor *supervisor.Supervisor
	opts       Options
	limiter    *adaptiveRateLimiter

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// New constructs a Broker over a ConfigRegistry and the Supervisor managing
// its manageProcess=true descriptors.
func New(registry *config.Registry, sup *supervisor.Supervisor, opts Options, options ...Option) *Broker {
	opts = opts.withDefaults()
	b := &Broker{
		registry:   registry,
		supervisor: sup,
		opts:       opts,
		limiter:    newAdaptiveRateLimiter(opts.RateLimitBudget, opts.RateLimitMaxBudget),
		logger:     telemetry.NewNoopLogger(),
		metrics:    telemetry.NewNoopMetrics(),
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// resolve looks up and boundary-checks a descriptor, returning the
// structured rejection the spec names for each failure (§4.D, §7).
func (b *Broker) resolve(serverID string) (config.ServerDescriptor, error) {
	d, ok := b.registry.Get(serverID)
	if !ok {
		return config.ServerDescriptor{}, toolerrors.New(toolerrors.ServerUnknown, "unknown server id").WithServer(serverID)
	}
	if !d.IsEnabled() {
		return config.ServerDescriptor{}, toolerrors.New(toolerrors.ServerDisabled, "server is disabled").WithServer(serverID)
	}
	if d.Transport != config.TransportStdio && d.Transport != config.TransportSSE {
		return config.ServerDescriptor{}, toolerrors.New(toolerrors.ConfigInvalid, "unsupported transport").WithServer(serverID)
	}
	if b.registry.HasIssues(serverID) {
		return config.ServerDescriptor{}, toolerrors.New(toolerrors.ConfigInvalid, "server has configuration issues").WithServer(serverID)
	}
	return d, nil
}

// Invoke resolves serverID, routes to the managed or unmanaged path, and
// returns the tool's structured result.
func (b *Broker) Invoke(ctx context.Context, serverID, toolName string, arguments any, opts InvokeOptions) (toolclient.ToolResult, error) {
	d, err := b.resolve(serverID)
	if err != nil {
		return toolclient.ToolResult{}, err
	}

	argBytes, _ := json.Marshal(arguments)
	if err := b.limiter.wait(ctx, estimateCost(argBytes)); err != nil {
		return toolclient.ToolResult{}, toolerrors.Wrap(toolerrors.Cancelled, err).WithServer(serverID).WithTool(toolName)
	}

	var result toolclient.ToolResult
	if d.ManageProcess {
		result, err = b.invokeManaged(ctx, d, toolName, arguments, opts)
	} else {
		result, err = b.invokeUnmanaged(ctx, d, toolName, arguments, opts)
	}
	b.limiter.observe(err)
	return result, err
}

func (b *Broker) invokeManaged(ctx context.Context, d config.ServerDescriptor, toolName string, arguments any, opts InvokeOptions) (toolclient.ToolResult, error) {
	client := b.supervisor.Get(d.ID)
	if client == nil {
		return toolclient.ToolResult{}, toolerrors.New(toolerrors.ServerUnavailable, "no live managed client").WithServer(d.ID).WithTool(toolName)
	}
	return client.CallTool(ctx, toolName, arguments, opts.Timeout)
}

// invokeUnmanaged builds a fresh transport and ToolClient for exactly this
// call, guaranteeing release (Disconnect) regardless of outcome. On connect
// failure only, it retries up to MaxReconnectAttempts spaced by
// ReconnectDelay, unless the caller disabled reconnection or ctx is
// exhausted. Tool invocation errors are never retried.
func (b *Broker) invokeUnmanaged(ctx context.Context, d config.ServerDescriptor, toolName string, arguments any, opts InvokeOptions) (toolclient.ToolResult, error) {
	maxAttempts := 1
	if opts.allowReconnect() {
		maxAttempts = b.opts.MaxReconnectAttempts + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client := toolclient.New(d.ID, b.buildTransport(d, nil), toolclient.WithLogger(b.logger), toolclient.WithMetrics(b.metrics))
		connErr := client.Connect(ctx, b.opts.ConnectDeadline)
		if connErr != nil {
			lastErr = connErr
			if attempt < maxAttempts {
				if !b.sleepReconnectDelay(ctx) {
					return toolclient.ToolResult{}, toolerrors.Wrap(toolerrors.Cancelled, ctx.Err()).WithServer(d.ID).WithTool(toolName)
				}
				continue
			}
			return toolclient.ToolResult{}, lastErr
		}

		result, callErr := client.CallTool(ctx, toolName, arguments, opts.Timeout)
		_ = client.Disconnect()
		return result, callErr
	}
	return toolclient.ToolResult{}, lastErr
}

func (b *Broker) sleepReconnectDelay(ctx context.Context) bool {
	timer := time.NewTimer(b.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// buildTransport translates a ServerDescriptor into a fresh transport.Transport,
// the one place outside internal/config that knows how a descriptor maps to a
// concrete Transport implementation. stderrSink may be nil; it is only
// meaningful for stdio transports with StderrPolicy "pipe".
func (b *Broker) buildTransport(d config.ServerDescriptor, stderrSink func(string)) transport.Transport {
	switch d.Transport {
	case config.TransportSSE:
		return transport.NewSSE(transport.SSEOptions{URL: d.URL})
	default:
		env := config.MergeEnv(config.InheritedBaseline(), d.Env)
		return transport.NewStdio(transport.StdioOptions{
			Command:      d.Command,
			Args:         d.Args,
			Cwd:          d.Cwd,
			Env:          env,
			StderrPolicy: string(d.StderrPolicy()),
			StderrSink:   stderrSink,
		})
	}
}

// TestConnection connects then disconnects for unmanaged servers; for
// managed servers it reports the Supervisor's cached state without
// re-connecting.
func (b *Broker) TestConnection(ctx context.Context, serverID string, timeout time.Duration) (bool, string) {
	d, err := b.resolve(serverID)
	if err != nil {
		return false, err.Error()
	}
	if d.ManageProcess {
		snap, ok := b.supervisor.Snapshot(serverID)
		if !ok {
			return false, "no managed entry for server"
		}
		return snap.State == supervisor.StateConnected, string(snap.State)
	}

	client := toolclient.New(d.ID, b.buildTransport(d, nil))
	if err := client.Connect(ctx, timeout); err != nil {
		return false, err.Error()
	}
	_ = client.Disconnect()
	return true, "ok"
}

// ValidateConfig delegates to the ConfigRegistry.
func (b *Broker) ValidateConfig() []config.Issue {
	return b.registry.ValidateConfig()
}

// StartManaged builds a Supervisor Descriptor for every enabled,
// manageProcess=true server in the registry and hands them to the
// Supervisor, per §6's zero-argument `StartManaged()` surface. Descriptors
// with outstanding validation issues are skipped — they are not servable
// until corrected.
func (b *Broker) StartManaged() {
	var descriptors []supervisor.Descriptor
	for id, d := range b.registry.All() {
		if !d.ManageProcess || !d.IsEnabled() || b.registry.HasIssues(id) {
			continue
		}
		d := d
		descriptors = append(descriptors, supervisor.Descriptor{
			ID: d.ID,
			Spawner: func(stderrSink func(string)) transport.Transport {
				return b.buildTransport(d, stderrSink)
			},
		})
	}
	b.supervisor.StartManaged(descriptors)
}

// StopManaged shuts down every managed server the Supervisor currently owns.
func (b *Broker) StopManaged() {
	b.supervisor.StopManaged()
}
