// Package bedrock adapts the AWS Bedrock Converse API to the Agent Loop's
// llm.Client contract. It splits system vs. conversational messages, encodes
// tool schemas into Bedrock's ToolConfiguration, and translates Converse
// responses (text + tool_use blocks) back into an llm.Response. Streaming
// (ConverseStream) is out of scope for this adapter.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentbroker/runtime/internal/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter calls. It matches *bedrockruntime.Client so tests can substitute a
// fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter's defaults.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient
	// DefaultModel is the Bedrock model identifier used for every call.
	DefaultModel string
	// MaxTokens bounds the response when the caller doesn't override it. When
	// zero or negative, InferenceConfig.MaxTokens is omitted and Bedrock uses
	// its own default.
	MaxTokens int
	// Temperature is used for every call; <= 0 omits it.
	Temperature float32
}

// Client implements llm.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a Client around an already-constructed RuntimeClient.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: Runtime is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: DefaultModel is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

var _ llm.Client = (*Client)(nil)

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	conversation, system, err := encodeMessages(messages)
	if err != nil {
		return llm.Response{}, err
	}
	if len(conversation) == 0 {
		return llm.Response{}, errors.New("bedrock: at least one user/assistant message is required")
	}
	toolConfig, err := encodeTools(tools)
	if err != nil {
		return llm.Response{}, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.defaultModel),
		Messages: conversation,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := c.inferenceConfig(); cfg != nil {
		input.InferenceConfig = cfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	resp, err := translateResponse(output)
	if err != nil {
		return llm.Response{}, err
	}
	for i, tc := range resp.ToolCalls {
		for _, t := range tools {
			if SanitizeToolName(t.Name) == tc.Name {
				resp.ToolCalls[i].Name = t.Name
				break
			}
		}
	}
	return resp, nil
}

func (c *Client) inferenceConfig() *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	set := false
	if c.maxTokens > 0 {
		maxTokens := int32(c.maxTokens)
		cfg.MaxTokens = &maxTokens
		set = true
	}
	if c.temperature > 0 {
		temp := c.temperature
		cfg.Temperature = &temp
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

func encodeMessages(messages []llm.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(messages))
	system := make([]brtypes.SystemContentBlock, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
		case llm.RoleUser:
			blocks := []brtypes.ContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			if len(blocks) > 0 {
				conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
			}
		case llm.RoleAssistant:
			blocks := []brtypes.ContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				tb := brtypes.ToolUseBlock{
					Name:      aws.String(SanitizeToolName(tc.Name)),
					ToolUseId: aws.String(tc.ID),
					Input:     toDocument(tc.Arguments),
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			}
			if len(blocks) > 0 {
				conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		case llm.RoleTool:
			if m.ToolCallID == "" {
				return nil, nil, errors.New("bedrock: tool message missing ToolCallID")
			}
			tr := brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: m.Content},
				},
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: tr}},
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	return conversation, system, nil
}

func encodeTools(tools []llm.ToolSpec) (*brtypes.ToolConfiguration, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(SanitizeToolName(t.Name)),
			Description: aws.String(t.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocumentFromSchema(t.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, nil
}

func toDocument(rawJSON string) document.Interface {
	if rawJSON == "" {
		return lazyDocument(map[string]any{})
	}
	var decoded any
	if err := json.Unmarshal([]byte(rawJSON), &decoded); err != nil {
		return lazyDocument(map[string]any{})
	}
	return lazyDocument(decoded)
}

func toDocumentFromSchema(schema map[string]any) document.Interface {
	if len(schema) == 0 {
		return lazyDocument(map[string]any{"type": "object"})
	}
	return lazyDocument(schema)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func decodeDocument(doc document.Interface) string {
	if doc == nil {
		return "{}"
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return "{}"
	}
	return string(data)
}

func translateResponse(output *bedrockruntime.ConverseOutput) (llm.Response, error) {
	if output == nil {
		return llm.Response{}, errors.New("bedrock: response is nil")
	}
	var resp llm.Response
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Content += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			var id, name string
			if v.Value.ToolUseId != nil {
				id = *v.Value.ToolUseId
			}
			if v.Value.Name != nil {
				name = *v.Value.Name
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        id,
				Name:      name,
				Arguments: decodeDocument(v.Value.Input),
			})
		}
	}
	return resp, nil
}
