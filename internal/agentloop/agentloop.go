// Package agentloop implements the Agent Loop (§4.E): the per-turn
// controller that sends messages and a declared tool set to an llm.Client,
// routes any tool_calls the model requests to either the memory
// collaborator or the Broker, appends the results, and repeats until the
// model returns terminal content or MaxToolIterations is reached.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentbroker/runtime/internal/broker"
	"github.com/agentbroker/runtime/internal/llm"
	"github.com/agentbroker/runtime/internal/memory"
	"github.com/agentbroker/runtime/internal/telemetry"
	"github.com/agentbroker/runtime/internal/toolclient"
	"github.com/agentbroker/runtime/internal/toolerrors"
)

const (
	// defaultMaxToolIterations bounds how many tool-call rounds one Run
	// performs before giving up, per §4.E step 5.
	defaultMaxToolIterations = 5

	// queryMemoryTool is the internal memory op's tool name, declared to
	// the model alongside whatever the caller advertises for the Broker.
	queryMemoryTool = "query_memory"

	// defaultMemoryTopK bounds how many memory entries a query_memory call
	// returns; the spec leaves this unstated so a small, fixed value keeps
	// tool-result payloads predictable.
	defaultMemoryTopK = 5

	refineDirective = "Refine your answer using the tool results above, or omit tool_calls to finalize your response."
)

// querySemanticSearch and queryHierarchicalLookup are the only query_type
// values the memory collaborator accepts (§4.E step 3).
const (
	querySemanticSearch     = "semantic_search"
	queryHierarchicalLookup = "hierarchical_lookup"
)

// Option configures a Loop at construction time.
type Option func(*Loop)

func WithLogger(l telemetry.Logger) Option   { return func(lp *Loop) { lp.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(lp *Loop) { lp.metrics = m } }

// WithMaxToolIterations overrides the default iteration cap for every Run
// call that doesn't set RunOptions.MaxIterations itself.
func WithMaxToolIterations(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.maxToolIterations = n
		}
	}
}

// Loop is the Agent Loop controller. It owns no conversation state between
// Run calls — each Run is one independent turn over its own messages copy.
type Loop struct {
	llm    llm.Client
	broker *broker.Broker
	memory memory.Store

	maxToolIterations int

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// New constructs a Loop around its three collaborators: an LLM client, the
// Tool-Broker, and a memory Store.
func New(llmClient llm.Client, br *broker.Broker, mem memory.Store, opts ...Option) *Loop {
	lp := &Loop{
		llm:               llmClient,
		broker:            br,
		memory:            mem,
		maxToolIterations: defaultMaxToolIterations,
		logger:            telemetry.NewNoopLogger(),
		metrics:           telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(lp)
	}
	return lp
}

// RunOptions tunes one Run call.
type RunOptions struct {
	// MaxIterations overrides the Loop's configured iteration cap for this
	// call only. Zero means "use the Loop's default".
	MaxIterations int

	// ExtraTools are appended to the built-in query_memory tool spec and
	// declared to the model — the capability set a ConfigRegistry-backed
	// caller advertises for Broker-routed tools.
	ExtraTools []llm.ToolSpec
}

func (o RunOptions) maxIterations(fallback int) int {
	if o.MaxIterations > 0 {
		return o.MaxIterations
	}
	return fallback
}

// Run executes the Agent Loop algorithm (§4.E) over initialMessages and
// returns the model's final content. When the iteration budget runs out it
// returns the content of the last model response, or a structured error if
// that last response carried no content.
func (l *Loop) Run(ctx context.Context, initialMessages []llm.Message, developerID string, opts RunOptions) (string, error) {
	messages := append([]llm.Message(nil), initialMessages...)
	tools := l.declaredTools(opts.ExtraTools)
	maxIterations := opts.maxIterations(l.maxToolIterations)

	var lastContent string
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", toolerrors.Wrap(toolerrors.Cancelled, err)
		}

		resp, err := l.llm.Chat(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("agent loop: llm chat: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		lastContent = resp.Content

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tool calls execute in declaration order; the default is
		// sequential since nothing here declares side-effect-freeness.
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", toolerrors.Wrap(toolerrors.Cancelled, err)
			}
			result := l.executeToolCall(ctx, call, developerID)
			messages = append(messages, toolResultMessage(call, result))
		}

		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: refineDirective})

		if iteration+1 >= maxIterations {
			if lastContent != "" {
				return lastContent, nil
			}
			return "", toolerrors.New(toolerrors.IterationCapReached, "agent loop reached max tool iterations without final content")
		}
	}
}

// declaredTools assembles the tool set advertised to the model: the
// built-in query_memory op plus whatever the caller advertises for
// Broker-routed tools.
func (l *Loop) declaredTools(extra []llm.ToolSpec) []llm.ToolSpec {
	tools := make([]llm.ToolSpec, 0, len(extra)+1)
	tools = append(tools, queryMemoryToolSpec())
	tools = append(tools, extra...)
	return tools
}

func queryMemoryToolSpec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        queryMemoryTool,
		Description: "Search recorded query/result memory for context relevant to query_string.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query_type": map[string]any{
					"type": "string",
					"enum": []string{querySemanticSearch, queryHierarchicalLookup},
				},
				"query_string": map[string]any{"type": "string"},
			},
			"required": []string{"query_type", "query_string"},
		},
	}
}

// executeToolCall implements §4.E step 3: parse arguments, route to the
// memory collaborator or the Broker, and always return a ToolResult rather
// than an error — per §7, the Agent Loop converts per-call failures into
// structured results so the model can attempt recovery within its budget.
func (l *Loop) executeToolCall(ctx context.Context, call llm.ToolCall, developerID string) toolclient.ToolResult {
	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return errorResult("arguments parse failed")
		}
	}

	if call.Name == queryMemoryTool {
		return l.executeMemoryQuery(ctx, args, developerID)
	}
	return l.executeBrokerCall(ctx, call.Name, args)
}

func (l *Loop) executeMemoryQuery(ctx context.Context, args map[string]any, developerID string) toolclient.ToolResult {
	queryType, _ := args["query_type"].(string)
	queryString, _ := args["query_string"].(string)

	switch queryType {
	case querySemanticSearch, queryHierarchicalLookup:
	default:
		return errorResult(fmt.Sprintf("unsupported query_type %q", queryType))
	}

	entries, err := l.memory.Search(ctx, queryString, defaultMemoryTopK)
	if err != nil {
		l.logger.Error(ctx, "memory search failed", "developerId", developerID, "error", err)
		return errorResult(toolerrors.Wrap(toolerrors.InternalMemoryError, err).Error())
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return errorResult("failed to encode memory results")
	}
	return toolclient.ToolResult{Status: "success", Data: data}
}

func (l *Loop) executeBrokerCall(ctx context.Context, toolName string, args map[string]any) toolclient.ToolResult {
	serverName, _ := args["server_name"].(string)
	if serverName == "" {
		return errorResult("missing required argument server_name")
	}

	result, err := l.broker.Invoke(ctx, serverName, toolName, args, broker.InvokeOptions{})
	if err != nil {
		return errorResult(err.Error())
	}
	return result
}

func errorResult(message string) toolclient.ToolResult {
	return toolclient.ToolResult{Status: "error", Message: message}
}

// toolResultMessage mirrors one ToolResult into the tool-role message the
// next LLM call sees, carrying the callId/name linkage §4.E step 4 names.
func toolResultMessage(call llm.ToolCall, result toolclient.ToolResult) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    resultContent(result),
		ToolCallID: call.ID,
		Name:       call.Name,
		IsError:    result.Status == "error",
	}
}

func resultContent(result toolclient.ToolResult) string {
	if result.Status == "error" {
		return result.Message
	}
	if len(result.Data) > 0 {
		return string(result.Data)
	}
	return "{}"
}
