package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentbroker/runtime/internal/toolerrors"
)

// generation is one immutable snapshot of the parsed configuration. Reload
// replaces the Registry's current generation atomically (§4.F).
type generation struct {
	servers          map[string]ServerDescriptor
	issues           []Issue
	defaultTimeoutMs int
}

// Registry is the ConfigRegistry: hot-readable, reload-replaces-generation.
type Registry struct {
	mu  sync.RWMutex
	gen *generation
}

// New constructs a Registry from a raw document, inferring JSON vs YAML from
// format ("json" or "yaml"). The canonical documented wire format is JSON;
// YAML is an additive convenience internal/config offers on top of it.
func New(raw []byte, format string) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(raw, format); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile reads a configuration document from path, choosing the decoder by
// file extension (.yaml/.yml vs everything else treated as JSON).
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.ConfigInvalid, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return New(raw, format)
}

// Reload parses raw and atomically replaces the current generation. Invalid
// descriptors are kept: Get, All and ValidateConfig still return them, and
// HasIssues reports them.
func (r *Registry) Reload(raw []byte, format string) error {
	var doc Document
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(raw, &doc)
	default:
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return toolerrors.Wrap(toolerrors.ConfigInvalid, err)
	}

	servers := make(map[string]ServerDescriptor, len(doc.McpServers))
	var issues []Issue
	for id, d := range doc.McpServers {
		d.ID = id
		servers[id] = d
		issues = append(issues, validateDescriptor(d)...)
	}

	r.mu.Lock()
	r.gen = &generation{servers: servers, issues: issues, defaultTimeoutMs: doc.McpClientDefaultTimeoutMs}
	r.mu.Unlock()
	return nil
}

// validateDescriptor checks the invariants in §3, returning one Issue per
// violation. Invalid descriptors are not rejected outright; they stay
// visible to ValidateConfig/operators.
func validateDescriptor(d ServerDescriptor) []Issue {
	var issues []Issue
	issue := func(format string, args ...any) {
		issues = append(issues, Issue{ServerID: d.ID, Message: fmt.Sprintf("%s: %s", d.ID, fmt.Sprintf(format, args...))})
	}

	switch d.Transport {
	case TransportStdio:
		if strings.TrimSpace(d.Command) == "" {
			issue("Missing 'command' for stdio transport")
		}
	case TransportSSE:
		if strings.TrimSpace(d.URL) == "" {
			issue("Missing 'url' for sse transport")
		} else if _, err := url.ParseRequestURI(d.URL); err != nil {
			issue("Invalid 'url': %v", err)
		}
	case TransportWebsocket:
		issue("transport 'websocket' is reserved and not supported")
	default:
		issue("Unknown transport %q", d.Transport)
	}

	if d.ManageProcess && d.Transport != TransportStdio {
		issue("manageProcess=true requires transport=stdio")
	}

	return issues
}

// Get resolves a descriptor by id. The bool reports whether the id is known
// at all; callers must additionally check IsEnabled and that ValidateConfig
// reports no issues for it before treating the server as servable — those
// are Broker-boundary rejections (§4.D), not this package's job.
func (r *Registry) Get(id string) (ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.gen == nil {
		return ServerDescriptor{}, false
	}
	d, ok := r.gen.servers[id]
	return d, ok
}

// All returns a copy of every known descriptor, valid or not.
func (r *Registry) All() map[string]ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ServerDescriptor)
	if r.gen == nil {
		return out
	}
	for k, v := range r.gen.servers {
		out[k] = v
	}
	return out
}

// ValidateConfig enumerates every validation issue found at the last
// Reload.
func (r *Registry) ValidateConfig() []Issue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.gen == nil {
		return nil
	}
	out := make([]Issue, len(r.gen.issues))
	copy(out, r.gen.issues)
	return out
}

// HasIssues reports whether id has any outstanding validation issue.
func (r *Registry) HasIssues(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.gen == nil {
		return false
	}
	for _, iss := range r.gen.issues {
		if iss.ServerID == id {
			return true
		}
	}
	return false
}

// DefaultTimeoutMs returns the configured mcpClientDefaultTimeoutMs, or 0 if
// unset.
func (r *Registry) DefaultTimeoutMs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.gen == nil {
		return 0
	}
	return r.gen.defaultTimeoutMs
}
