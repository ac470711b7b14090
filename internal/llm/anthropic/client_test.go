package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/agentbroker/runtime/internal/llm"
)

type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
	got  sdk.MessageNewParams
}

func (f *fakeMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestNewRequiresMessagesClientAndModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-x"})
	require.Error(t, err)

	_, err = New(&fakeMessagesClient{}, Options{})
	require.Error(t, err)
}

func TestChatTextResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
		},
	}
	c, err := New(fake, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Content)
	require.Empty(t, resp.ToolCalls)
	require.Equal(t, sdk.Model("claude-sonnet"), fake.got.Model)
}

func TestChatToolCallResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call_1", Name: "lookup", Input: []byte(`{"q":"weather"}`)},
			},
		},
	}
	c, err := New(fake, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "what's the weather"},
	}, []llm.ToolSpec{
		{Name: "lookup", Description: "look things up", InputSchema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "call_1", resp.ToolCalls[0].ID)
	require.Equal(t, "lookup", resp.ToolCalls[0].Name)
	require.JSONEq(t, `{"q":"weather"}`, resp.ToolCalls[0].Arguments)
	require.Len(t, fake.got.Tools, 1)
}

func TestChatRequiresAtLeastOneMessage(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestChatToolResultMessageEncodesBlock(t *testing.T) {
	fake := &fakeMessagesClient{resp: &sdk.Message{}}
	c, err := New(fake, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "call the tool"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":"weather"}`}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"status":"ok"}`},
	}, nil)
	require.NoError(t, err)
	require.Len(t, fake.got.Messages, 3)
}

func TestChatPropagatesProviderError(t *testing.T) {
	fake := &fakeMessagesClient{err: errors.New("rate limited")}
	c, err := New(fake, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
}
