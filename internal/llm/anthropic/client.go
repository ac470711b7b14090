// Package anthropic adapts the Anthropic Claude Messages API to the
// Agent Loop's llm.Client contract. It translates llm.Message/llm.ToolSpec
// into sdk.MessageNewParams calls using github.com/anthropics/anthropic-sdk-go
// and maps the response's text/tool_use content blocks back into an
// llm.Response. Streaming, extended thinking, documents, and citations are
// out of scope for this adapter — see the package's callers for why.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentbroker/runtime/internal/llm"
)

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// calls. It is satisfied by *sdk.MessageService so tests can substitute a
// fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter's defaults.
type Options struct {
	// DefaultModel is used when a call does not pin a specific model.
	DefaultModel string
	// MaxTokens bounds the response when the caller doesn't override it.
	MaxTokens int
	// Temperature is the sampling temperature; <= 0 leaves the API default.
	Temperature float64
}

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client around an already-constructed MessagesClient, useful
// for tests and for callers who want to share one *sdk.Client across
// adapters.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: MessagesClient is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: DefaultModel is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey builds a Client with a real Anthropic SDK client constructed
// from the given API key.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, Options{DefaultModel: defaultModel})
}

var _ llm.Client = (*Client)(nil)

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	params, err := c.prepareRequest(messages, tools)
	if err != nil {
		return llm.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: %w", err)
	}
	return translateResponse(msg)
}

func (c *Client) prepareRequest(messages []llm.Message, tools []llm.ToolSpec) (*sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	conversation, system, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(c.defaultModel),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		toolParams, err := encodeTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = toolParams
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	return params, nil
}

func encodeMessages(messages []llm.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	system := make([]sdk.TextBlockParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case llm.RoleUser:
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewUserMessage(blocks...))
			}
		case llm.RoleAssistant:
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: tool call %q arguments are not valid JSON: %w", tc.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			if m.ToolCallID == "" {
				return nil, nil, errors.New("anthropic: tool message missing ToolCallID")
			}
			block := sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)
			conversation = append(conversation, sdk.NewUserMessage(block))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return conversation, system, nil
}

func encodeTools(tools []llm.ToolSpec) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		schema, err := toolInputSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q: %w", t.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toolInputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}, nil
}

func translateResponse(msg *sdk.Message) (llm.Response, error) {
	if msg == nil {
		return llm.Response{}, errors.New("anthropic: response message is nil")
	}
	var resp llm.Response
	var content strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			arguments := string(block.Input)
			if arguments == "" {
				arguments = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: arguments,
			})
		}
	}
	resp.Content = content.String()
	return resp, nil
}
