package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/agentbroker/runtime/internal/llm"
)

type fakeRuntime struct {
	output *bedrockruntime.ConverseOutput
	err    error
	got    *bedrockruntime.ConverseInput
}

func (f *fakeRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestNewRequiresRuntimeAndModel(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Runtime: &fakeRuntime{}})
	require.Error(t, err)
}

func TestChatTextResponse(t *testing.T) {
	fake := &fakeRuntime{
		output: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "hello"},
					},
				},
			},
		},
	}
	c, err := New(Options{Runtime: fake, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, "anthropic.claude-3", aws.ToString(fake.got.ModelId))
}

func TestChatToolCallResponse(t *testing.T) {
	fake := &fakeRuntime{
		output: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
							ToolUseId: aws.String("call_1"),
							Name:      aws.String("lookup"),
						}},
					},
				},
			},
		},
	}
	c, err := New(Options{Runtime: fake, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, []llm.ToolSpec{
		{Name: "lookup", Description: "look things up"},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "call_1", resp.ToolCalls[0].ID)
	require.NotNil(t, fake.got.ToolConfig)
}

func TestChatRequiresAtLeastOneMessage(t *testing.T) {
	c, err := New(Options{Runtime: &fakeRuntime{}, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestChatPropagatesRuntimeError(t *testing.T) {
	fake := &fakeRuntime{err: errServiceUnavailable{}}
	c, err := New(Options{Runtime: fake, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
}

type errServiceUnavailable struct{}

func (errServiceUnavailable) Error() string { return "service unavailable" }
