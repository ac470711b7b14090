package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/agentbroker/runtime/internal/rpc"
)

// SSEOptions configures an HTTP Server-Sent Events Transport.
type SSEOptions struct {
	URL    string
	Client *http.Client
}

// SSE is the SSE Transport variant. One logical exchange is one HTTP
// connection: Send posts the frame and opens the response stream, Receive
// reads event-framed JSON documents from it, Close tears the connection
// down. This matches the per-Invoke "one connection opened and closed"
// contract the Broker relies on for unmanaged per-call paths (§8 scenario 2).
type SSE struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *rpc.SSEReader
	ctx    context.Context

	onErrorFn func(error)
	onCloseFn func()
}

// NewSSE constructs an SSE transport. Hostnames equal to "localhost" are
// rewritten to the IPv4 loopback per §4.A.
func NewSSE(opts SSEOptions) *SSE {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &SSE{url: normalizeLocalhost(opts.URL), client: client}
}

func normalizeLocalhost(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.Hostname() != "localhost" {
		return raw
	}
	host := "127.0.0.1"
	if port := parsed.Port(); port != "" {
		host = host + ":" + port
	}
	parsed.Host = host
	return parsed.String()
}

func (s *SSE) OnError(fn func(error)) { s.onErrorFn = fn }
func (s *SSE) OnClose(fn func())      { s.onCloseFn = fn }

func (s *SSE) fireError(err error) {
	if s.onErrorFn != nil {
		s.onErrorFn(err)
	}
}

func (s *SSE) fireClose() {
	if s.onCloseFn != nil {
		s.onCloseFn()
	}
}

// Start records the context used for the connection opened on the first
// Send; the underlying HTTP connection itself opens lazily since the
// request body (the frame) isn't known until Send.
func (s *SSE) Start(ctx context.Context) error {
	s.ctx = ctx
	return nil
}

func (s *SSE) Send(frame []byte) error {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(frame))
	if err != nil {
		s.fireError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		s.fireError(err)
		return err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		err := fmt.Errorf("sse transport: status %d: %s", resp.StatusCode, string(raw))
		s.fireError(err)
		return err
	}

	s.mu.Lock()
	s.body = resp.Body
	s.reader = rpc.NewSSEReader(resp.Body)
	s.mu.Unlock()
	return nil
}

// Receive reads the next response/error event from the stream opened by the
// most recent Send, skipping any notification events in between.
func (s *SSE) Receive() ([]byte, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return nil, fmt.Errorf("sse transport: receive before send")
	}
	for {
		event, data, err := reader.ReadEvent()
		if err != nil {
			s.fireClose()
			return nil, err
		}
		switch event {
		case "response", "error", "":
			return data, nil
		default:
			continue
		}
	}
}

// Close closes the open stream, if any. Idempotent.
func (s *SSE) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	s.reader = nil
	return body.Close()
}
