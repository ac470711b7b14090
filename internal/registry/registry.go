// Package registry is the capability catalog: a read-through cache in front
// of the ConfigRegistry's server descriptors, giving the Agent Loop's
// "whatever the ConfigRegistry advertises" tool list (§4.E step 1) a
// concrete, searchable shape instead of hand-waving it.
package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/agentbroker/runtime/internal/config"
	"github.com/agentbroker/runtime/internal/llm"
	"github.com/agentbroker/runtime/internal/telemetry"
)

// ToolsetInfo is one server's catalog entry: enough for the Agent Loop to
// declare a Broker-routed tool to the model without knowing the server's
// full tool schema (which lives on the server itself, not the catalog).
type ToolsetInfo struct {
	ID          string
	Name        string
	Description string
	Tags        []string
}

// Option configures a Catalog at construction time.
type Option func(*Catalog)

func WithLogger(l telemetry.Logger) Option   { return func(c *Catalog) { c.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(c *Catalog) { c.metrics = m } }

// WithCacheTTL overrides the default TTL applied to cached Search results.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

const defaultCacheTTL = 30 * time.Second

// Catalog is the capability registry: Search(query) reads through an
// optional Cache before falling back to scanning the live ConfigRegistry.
type Catalog struct {
	registry *config.Registry
	cache    Cache
	cacheTTL time.Duration

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// New constructs a Catalog over registry. cache may be nil, in which case
// every Search rescans the ConfigRegistry directly — useful for tests and
// for single-process deployments with no warm-cache requirement.
func New(registry *config.Registry, cache Cache, opts ...Option) *Catalog {
	c := &Catalog{
		registry: registry,
		cache:    cache,
		cacheTTL: defaultCacheTTL,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns every enabled server whose id, display name, description,
// or tags contain query as a case-insensitive substring, sorted by id for
// deterministic results. An empty query returns every enabled server.
func (c *Catalog) Search(ctx context.Context, query string) ([]ToolsetInfo, error) {
	key := cacheKey(query)
	if c.cache != nil {
		if entries, ok, err := c.cache.Get(ctx, key); err != nil {
			c.logger.Warn(ctx, "catalog cache get failed", "error", err)
		} else if ok {
			c.metrics.IncCounter("registry.catalog.cache_hit", 1)
			return entries, nil
		}
	}

	entries := c.scan(query)
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, entries, c.cacheTTL); err != nil {
			c.logger.Warn(ctx, "catalog cache set failed", "error", err)
		}
	}
	return entries, nil
}

// Invalidate drops any cached Search result for query, forcing the next
// Search to rescan the ConfigRegistry. Callers reach for this after a
// config reload changes which servers are enabled.
func (c *Catalog) Invalidate(ctx context.Context, query string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, cacheKey(query))
}

func (c *Catalog) scan(query string) []ToolsetInfo {
	needle := strings.ToLower(query)
	var out []ToolsetInfo
	for id, d := range c.registry.All() {
		if !d.IsEnabled() || c.registry.HasIssues(id) {
			continue
		}
		info := toToolsetInfo(d)
		if needle == "" || matchesQuery(info, needle) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toToolsetInfo(d config.ServerDescriptor) ToolsetInfo {
	tags := append([]string{string(d.Transport)}, d.ToolTags...)
	if d.ManageProcess {
		tags = append(tags, "managed")
	}
	name := d.DisplayName
	if name == "" {
		name = d.ID
	}
	return ToolsetInfo{ID: d.ID, Name: name, Description: d.Description, Tags: tags}
}

func matchesQuery(info ToolsetInfo, needle string) bool {
	if strings.Contains(strings.ToLower(info.ID), needle) ||
		strings.Contains(strings.ToLower(info.Name), needle) ||
		strings.Contains(strings.ToLower(info.Description), needle) {
		return true
	}
	for _, tag := range info.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func cacheKey(query string) string {
	return "catalog:search:" + strings.ToLower(query)
}

// ToolSpec adapts one ToolsetInfo into the declared-tool shape the Agent
// Loop advertises to the model: calling it routes through the Broker under
// the server's id (§4.E step 3's "require a server_name argument").
func ToolSpec(info ToolsetInfo) llm.ToolSpec {
	description := info.Description
	if description == "" {
		description = "Invoke the " + info.Name + " MCP server."
	}
	return llm.ToolSpec{
		Name:        info.ID,
		Description: description,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"server_name": map[string]any{"type": "string", "const": info.ID},
			},
			"required": []string{"server_name"},
		},
	}
}
