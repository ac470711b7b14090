// Package supervisor owns the lifecycle of managed stdio tool-server
// children: spawn, pipe stderr, detect crash/close, restart with bounded
// linear backoff, and orderly shutdown, per §4.C. All state mutation is
// funneled through the Supervisor's own goroutine per entry so the managed
// map has a single writer.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/agentbroker/runtime/internal/diagnostics"
	"github.com/agentbroker/runtime/internal/telemetry"
	"github.com/agentbroker/runtime/internal/toolclient"
	"github.com/agentbroker/runtime/internal/toolerrors"
	"github.com/agentbroker/runtime/internal/transport"
)

// State mirrors ManagedEntry.state from §3.
type State string

const (
	StateStarting  State = "starting"
	StateConnected State = "connected"
	StateDegraded  State = "degraded"
	StateStopped   State = "stopped"
)

// Spawner builds a fresh transport.Transport for one (re)start attempt of a
// managed descriptor. The Supervisor never constructs transports itself so
// it stays transport-agnostic; internal/broker's StartManaged builds one
// from each config.ServerDescriptor.
type Spawner func(stderrSink func(line string)) transport.Transport

// Descriptor is the minimal shape the Supervisor needs per managed server.
type Descriptor struct {
	ID      string
	Spawner Spawner
}

// Options tunes the restart policy. Zero values fall back to spec defaults.
type Options struct {
	MaxRestartAttempts int           // default 3
	RestartBaseDelay   time.Duration // default 5s, linear: base * attempt
	ConnectDeadline    time.Duration // default 10s
	ShutdownBudget     time.Duration // default 5s
}

func (o Options) withDefaults() Options {
	if o.MaxRestartAttempts <= 0 {
		o.MaxRestartAttempts = 3
	}
	if o.RestartBaseDelay <= 0 {
		o.RestartBaseDelay = 5 * time.Second
	}
	if o.ConnectDeadline <= 0 {
		o.ConnectDeadline = 10 * time.Second
	}
	if o.ShutdownBudget <= 0 {
		o.ShutdownBudget = 5 * time.Second
	}
	return o
}

// ManagedEntry is the externally-visible snapshot of one managed server.
// Snapshots are copies: callers never observe a partially-initialized entry
// (§4.C — "callers never see partially-initialized clients").
type ManagedEntry struct {
	ServerID  string
	State     State
	Attempt   int
	LastError error
}

type entry struct {
	descriptor Descriptor
	state      State
	attempt    int
	lastError  error
	client     *toolclient.Client
	cancel     context.CancelFunc
	stopped    chan struct{}
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

func WithLogger(l telemetry.Logger) Option   { return func(s *Supervisor) { s.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// Supervisor owns the set of ManagedEntry's for descriptors with
// manageProcess=true.
type Supervisor struct {
	opts  Options
	sink  diagnostics.Sink
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs a Supervisor. sink receives every managed child's stderr
// lines when stderrPolicy=pipe; pass diagnostics.NewSink(256, true) for the
// default drop-oldest behavior.
func New(opts Options, sink diagnostics.Sink, options ...Option) *Supervisor {
	s := &Supervisor{
		opts:    opts.withDefaults(),
		sink:    sink,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		entries: make(map[string]*entry),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// StartManaged spawns and connects every descriptor asynchronously; the
// caller is never blocked on a slow server.
func (s *Supervisor) StartManaged(descriptors []Descriptor) {
	for _, d := range descriptors {
		s.startEntry(d)
	}
}

func (s *Supervisor) startEntry(d Descriptor) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{descriptor: d, state: StateStarting, cancel: cancel, stopped: make(chan struct{})}

	s.mu.Lock()
	if prior, ok := s.entries[d.ID]; ok {
		prior.cancel()
		if prior.client != nil {
			_ = prior.client.Disconnect()
		}
	}
	s.entries[d.ID] = e
	s.mu.Unlock()

	go s.run(ctx, e)
}

// run is the entry's own goroutine: the single writer to e's fields. It
// loops spawn -> connect -> (serve until close) -> backoff -> respawn until
// MaxRestartAttempts is exceeded or the context is cancelled.
func (s *Supervisor) run(ctx context.Context, e *entry) {
	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			s.setState(e, StateStopped, nil)
			return
		default:
		}

		stderrSink := func(line string) {
			if s.sink != nil {
				s.sink.Publish(diagnostics.Line{ServerID: e.descriptor.ID, Text: line})
			}
		}
		tr := e.descriptor.Spawner(stderrSink)
		client := toolclient.New(e.descriptor.ID, tr, toolclient.WithLogger(s.logger), toolclient.WithMetrics(s.metrics))

		connErr := client.Connect(ctx, s.opts.ConnectDeadline)
		if connErr != nil {
			if !s.nextAttempt(ctx, e, connErr) {
				return
			}
			continue
		}

		s.mu.Lock()
		e.client = client
		e.lastError = nil
		s.mu.Unlock()
		s.setState(e, StateConnected, nil)

		// Block until this generation's client degrades (transport
		// close) or the entry is cancelled.
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
			s.setState(e, StateStopped, nil)
			return
		case <-waitDegraded(client):
			_ = client.Disconnect()
			if !s.nextAttempt(ctx, e, toolerrors.New(toolerrors.ConnectionClosed, "managed transport closed").WithServer(e.descriptor.ID)) {
				return
			}
		}
	}
}

// waitDegraded polls for the client leaving StateConnected. The ToolClient
// has no blocking "wait for close" primitive by design (handleClose just
// flips state), so the Supervisor observes it the same way any other reader
// would: by polling the published state at a coarse interval. This keeps the
// ToolClient ignorant of its supervision, matching §4.B's boundary.
func waitDegraded(c *toolclient.Client) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if c.State() != toolclient.StateConnected {
				return
			}
		}
	}()
	return done
}

// nextAttempt applies the restart policy: increment attempt, give up past
// MaxRestartAttempts, otherwise sleep a cancellable linear backoff and
// report true to keep looping.
func (s *Supervisor) nextAttempt(ctx context.Context, e *entry, cause error) bool {
	s.mu.Lock()
	e.attempt++
	attempt := e.attempt
	e.lastError = cause
	s.mu.Unlock()

	if attempt > s.opts.MaxRestartAttempts {
		s.setState(e, StateStopped, cause)
		return false
	}
	s.setState(e, StateDegraded, cause)

	delay := time.Duration(attempt) * s.opts.RestartBaseDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) setState(e *entry, state State, err error) {
	s.mu.Lock()
	e.state = state
	if err != nil {
		e.lastError = err
	}
	s.mu.Unlock()
}

// Get returns a snapshot of the managed client only if it is connected;
// callers never see a partially-initialized entry.
func (s *Supervisor) Get(id string) *toolclient.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || e.state != StateConnected {
		return nil
	}
	return e.client
}

// Snapshot returns a copy of one entry's externally-visible state.
func (s *Supervisor) Snapshot(id string) (ManagedEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return ManagedEntry{}, false
	}
	return ManagedEntry{ServerID: e.descriptor.ID, State: e.state, Attempt: e.attempt, LastError: e.lastError}, true
}

// StopManaged signals every entry to disconnect and waits up to the
// shutdown budget. Idempotent: calling it twice has the same observable
// effect as once (every entry's cancel/Disconnect is itself idempotent).
func (s *Supervisor) StopManaged() {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.cancel()
	}

	deadline := time.After(s.opts.ShutdownBudget)
	for _, e := range entries {
		select {
		case <-e.stopped:
		case <-deadline:
			return
		}
	}
}
