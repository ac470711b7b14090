package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/runtime/internal/broker"
	"github.com/agentbroker/runtime/internal/config"
	"github.com/agentbroker/runtime/internal/diagnostics"
	"github.com/agentbroker/runtime/internal/llm"
	"github.com/agentbroker/runtime/internal/memory"
	"github.com/agentbroker/runtime/internal/memory/inmem"
	"github.com/agentbroker/runtime/internal/supervisor"
	"github.com/agentbroker/runtime/internal/toolclient"
)

// fakeLLM scripts a fixed sequence of Responses, one per Chat call, and
// records every request it was asked to translate.
type fakeLLM struct {
	responses []llm.Response
	calls     int
	lastReq   []llm.Message
	err       error
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message, _ []llm.ToolSpec) (llm.Response, error) {
	f.lastReq = messages
	if f.err != nil {
		return llm.Response{}, f.err
	}
	if f.calls >= len(f.responses) {
		return llm.Response{}, errors.New("fakeLLM: no more scripted responses")
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func newEchoBroker(t *testing.T) *broker.Broker {
	t.Helper()
	registry, err := config.New([]byte(`{"mcp_servers": {"echo": {"transport":"stdio","command":"/bin/sh","args":["-c","read -r line; printf '%s\n' \"$line\""]}}}`), "json")
	require.NoError(t, err)
	sup := supervisor.New(supervisor.Options{}, diagnostics.NewSink(8, true))
	return broker.New(registry, sup, broker.Options{})
}

func TestRunTerminalContentOnFirstTurn(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{{Content: "final answer"}}}
	l := New(fl, newEchoBroker(t), inmem.New())

	got, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "final answer", got)
	require.Equal(t, 1, fl.calls)
}

func TestRunRoutesMemoryQueryToStore(t *testing.T) {
	mem := inmem.New()
	require.NoError(t, mem.Append(context.Background(), memory.MemoryEntry{ID: "1", DeveloperID: "dev-1", Query: "deploy", Result: "run migrate"}))

	fl := &fakeLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "query_memory", Arguments: `{"query_type":"semantic_search","query_string":"deploy"}`}}},
		{Content: "done"},
	}}
	l := New(fl, newEchoBroker(t), mem)

	got, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "done", got)
	require.Equal(t, 2, fl.calls)

	// The second Chat call must have seen a successful tool-role message
	// carrying the matched memory entry.
	var toolMsg *llm.Message
	for i := range fl.lastReq {
		if fl.lastReq[i].Role == llm.RoleTool {
			toolMsg = &fl.lastReq[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.False(t, toolMsg.IsError)
	require.Contains(t, toolMsg.Content, "deploy")
}

func TestRunUnsupportedQueryTypeProducesErrorResult(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "query_memory", Arguments: `{"query_type":"bogus","query_string":"x"}`}}},
		{Content: "done"},
	}}
	l := New(fl, newEchoBroker(t), inmem.New())

	_, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)

	var toolMsg *llm.Message
	for i := range fl.lastReq {
		if fl.lastReq[i].Role == llm.RoleTool {
			toolMsg = &fl.lastReq[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.True(t, toolMsg.IsError)
	require.Contains(t, toolMsg.Content, "bogus")
}

func TestRunMissingServerNameProducesErrorResult(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "lookup", Arguments: `{}`}}},
		{Content: "done"},
	}}
	l := New(fl, newEchoBroker(t), inmem.New())

	_, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)

	var toolMsg *llm.Message
	for i := range fl.lastReq {
		if fl.lastReq[i].Role == llm.RoleTool {
			toolMsg = &fl.lastReq[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.True(t, toolMsg.IsError)
	require.Contains(t, toolMsg.Content, "server_name")
}

func TestRunRoutesServerCallThroughBroker(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "ping", Arguments: `{"server_name":"echo","x":1}`}}},
		{Content: "done"},
	}}
	l := New(fl, newEchoBroker(t), inmem.New())

	got, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "done", got)
}

func TestRunArgumentsParseFailureProducesErrorResult(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "ping", Arguments: `not json`}}},
		{Content: "done"},
	}}
	l := New(fl, newEchoBroker(t), inmem.New())

	_, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)

	var toolMsg *llm.Message
	for i := range fl.lastReq {
		if fl.lastReq[i].Role == llm.RoleTool {
			toolMsg = &fl.lastReq[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.True(t, toolMsg.IsError)
	require.Contains(t, toolMsg.Content, "arguments parse failed")
}

func TestRunStopsAtMaxIterationsWithLastContent(t *testing.T) {
	toolCall := llm.ToolCall{ID: "call-1", Name: "ping", Arguments: `{"server_name":"echo"}`}
	fl := &fakeLLM{responses: []llm.Response{
		{Content: "partial-1", ToolCalls: []llm.ToolCall{toolCall}},
		{Content: "partial-2", ToolCalls: []llm.ToolCall{toolCall}},
	}}
	l := New(fl, newEchoBroker(t), inmem.New())

	got, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{MaxIterations: 2})
	require.NoError(t, err)
	require.Equal(t, "partial-2", got)
	require.Equal(t, 2, fl.calls)
}

func TestRunStopsAtMaxIterationsWithoutContentReturnsIterationCapError(t *testing.T) {
	toolCall := llm.ToolCall{ID: "call-1", Name: "ping", Arguments: `{"server_name":"echo"}`}
	fl := &fakeLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall}},
	}}
	l := New(fl, newEchoBroker(t), inmem.New())

	_, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{MaxIterations: 1})
	require.Error(t, err)
}

func TestRunPropagatesLLMError(t *testing.T) {
	fl := &fakeLLM{err: errors.New("provider down")}
	l := New(fl, newEchoBroker(t), inmem.New())

	_, err := l.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.Error(t, err)
}

func TestRunRespectsAlreadyCancelledContext(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{{Content: "unused"}}}
	l := New(fl, newEchoBroker(t), inmem.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Run(ctx, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.Error(t, err)
	require.Equal(t, 0, fl.calls)
}

func TestDeclaredToolsIncludesQueryMemoryAndExtras(t *testing.T) {
	l := New(&fakeLLM{}, newEchoBroker(t), inmem.New())
	extra := llm.ToolSpec{Name: "search_docs"}
	tools := l.declaredTools([]llm.ToolSpec{extra})

	names := make([]string, len(tools))
	for i, ts := range tools {
		names[i] = ts.Name
	}
	require.Contains(t, names, queryMemoryTool)
	require.Contains(t, names, "search_docs")
}

func TestToolResultMessageEncodesSuccessData(t *testing.T) {
	data, err := json.Marshal(map[string]any{"ok": true})
	require.NoError(t, err)
	msg := toolResultMessage(llm.ToolCall{ID: "c1", Name: "ping"}, toolclient.ToolResult{Status: "success", Data: data})
	require.False(t, msg.IsError)
	require.JSONEq(t, `{"ok":true}`, msg.Content)
}

func TestRunHonorsConfigurableMaxIterationsOption(t *testing.T) {
	l := New(&fakeLLM{}, newEchoBroker(t), inmem.New(), WithMaxToolIterations(3))
	require.Equal(t, 3, l.maxToolIterations)
}

func TestRunCompletesWithinDeadline(t *testing.T) {
	fl := &fakeLLM{responses: []llm.Response{{Content: "ok"}}}
	l := New(fl, newEchoBroker(t), inmem.New())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := l.Run(ctx, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "dev-1", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}
