package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/openai"
)

func textBlock(s string) anthropic.ContentBlock {
	return anthropic.ContentBlock{Type: "text", Text: s}
}

func TestToOpenAI_SystemPromptCollapsesToOneMessage(t *testing.T) {
	req := &anthropic.Request{
		Model: "local-model",
		System: anthropic.System{Blocks: []anthropic.SystemBlock{
			{Type: "text", Text: "You are helpful."},
			{Type: "text", Text: "Be concise."},
		}},
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{textBlock("hi")}},
		},
	}
	result, err := ToOpenAI(req, 0, Options{})
	require.NoError(t, err)

	systemCount := 0
	for _, m := range result.Request.Messages {
		if m.Role == "system" {
			systemCount++
			assert.Equal(t, "You are helpful.\nBe concise.", m.Content)
		}
	}
	assert.Equal(t, 1, systemCount)
}

func TestToOpenAI_StrictSystemRejectsMultipleBlocks(t *testing.T) {
	req := &anthropic.Request{
		System: anthropic.System{Blocks: []anthropic.SystemBlock{
			{Type: "text", Text: "a"},
			{Type: "text", Text: "b"},
		}},
	}
	_, err := ToOpenAI(req, 0, Options{StrictSystem: true})
	assert.ErrorIs(t, err, ErrSystemPromptTooMany)
}

func TestToOpenAI_ToolUseBecomesToolCalls(t *testing.T) {
	req := &anthropic.Request{
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{
				textBlock("let me check"),
				{Type: "tool_use", ID: "call_1", Name: "Read", Input: json.RawMessage(`{"file_path":"/a"}`)},
			}},
		},
	}
	result, err := ToOpenAI(req, 0, Options{})
	require.NoError(t, err)
	require.Len(t, result.Request.Messages, 1)
	msg := result.Request.Messages[0]
	assert.Equal(t, "let me check", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "Read", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"file_path":"/a"}`, msg.ToolCalls[0].Function.Arguments)
}

func TestToOpenAI_ToolResultBecomesToolMessage(t *testing.T) {
	req := &anthropic.Request{
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{
				{Type: "tool_use", ID: "call_1", Name: "Read", Input: json.RawMessage(`{}`)},
			}},
			{Role: "user", Content: []anthropic.ContentBlock{
				{Type: "tool_result", ToolUseID: "call_1", Content: json.RawMessage(`"file contents"`)},
			}},
		},
	}
	result, err := ToOpenAI(req, 0, Options{})
	require.NoError(t, err)
	var toolMsg *openai.Message
	for i := range result.Request.Messages {
		if result.Request.Messages[i].Role == "tool" {
			toolMsg = &result.Request.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "file contents", toolMsg.Content)
}

func TestToOpenAI_OrphanToolResultErrors(t *testing.T) {
	req := &anthropic.Request{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{
				{Type: "tool_result", ToolUseID: "missing", Content: json.RawMessage(`"x"`)},
			}},
		},
	}
	_, err := ToOpenAI(req, 0, Options{})
	assert.ErrorIs(t, err, ErrToolResultOrphan)
}

func TestToOpenAI_UnsupportedContentType(t *testing.T) {
	req := &anthropic.Request{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "document"}}},
		},
	}
	_, err := ToOpenAI(req, 0, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestToOpenAI_ImageBecomesDataURI(t *testing.T) {
	req := &anthropic.Request{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{
				textBlock("what is this"),
				{Type: "image", Source: &anthropic.BlockSource{Type: "base64", MediaType: "image/png", Data: "Zm9v"}},
			}},
		},
	}
	result, err := ToOpenAI(req, 0, Options{})
	require.NoError(t, err)
	require.Len(t, result.Request.Messages, 1)
	parts := result.Request.Messages[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "data:image/png;base64,Zm9v", parts[1].ImageURL.URL)
}

func TestToOpenAI_InjectsToolInstructionsOnFirstTurn(t *testing.T) {
	req := &anthropic.Request{
		Tools: []anthropic.Tool{{Name: "Read"}},
		System: anthropic.System{Blocks: []anthropic.SystemBlock{{Type: "text", Text: "Base prompt"}}},
	}
	result, err := ToOpenAI(req, 0, Options{
		InjectToolInstructions:       true,
		ToolInstructionStyle:        "explicit",
		InjectionThreshold:           0.5,
		MaxInjectionsPerConversation: 3,
	})
	require.NoError(t, err)
	assert.True(t, result.Injected)
	assert.Contains(t, result.Request.Messages[0].Content, "Base prompt")
	assert.Contains(t, result.Request.Messages[0].Content, explicitInjection)
}

func TestToOpenAI_InjectionRespectsBudget(t *testing.T) {
	req := &anthropic.Request{Tools: []anthropic.Tool{{Name: "Read"}}}
	result, err := ToOpenAI(req, 3, Options{
		InjectToolInstructions:       true,
		MaxInjectionsPerConversation: 3,
		InjectionThreshold:           0,
	})
	require.NoError(t, err)
	assert.False(t, result.Injected)
}

func TestToOpenAI_InjectionBeforeTruncation(t *testing.T) {
	req := &anthropic.Request{
		Tools: []anthropic.Tool{{Name: "Read"}},
		System: anthropic.System{Blocks: []anthropic.SystemBlock{{Type: "text", Text: "short base"}}},
	}
	result, err := ToOpenAI(req, 0, Options{
		InjectToolInstructions:       true,
		ToolInstructionStyle:        "explicit",
		InjectionThreshold:           0,
		MaxInjectionsPerConversation: 1,
		TruncateSystemPrompt:         true,
		SystemPromptMaxTokens:        1000,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Request.Messages[0].Content, explicitInjection)
}

func TestFromOpenAI_TextAndToolCalls(t *testing.T) {
	resp := &openai.Response{
		ID: "resp_1",
		Choices: []openai.Choice{
			{
				Message: openai.Message{
					Content: "here you go",
					ToolCalls: []openai.ToolCall{
						{ID: "call_1", Function: openai.Function{Name: "Read", Arguments: `{"file_path":"/a"}`}},
					},
				},
				FinishReason: "tool_calls",
			},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
	out, warnings := FromOpenAI(resp, "local-model")
	assert.Empty(t, warnings)
	require.Len(t, out.Content, 2)
	assert.Equal(t, "text", out.Content[0].Type)
	assert.Equal(t, "tool_use", out.Content[1].Type)
	assert.Equal(t, "tool_use", out.StopReason)
	assert.Equal(t, 10, out.Usage.InputTokens)
}

func TestFromOpenAI_MalformedArgumentsSurfacesWarning(t *testing.T) {
	resp := &openai.Response{
		Choices: []openai.Choice{
			{Message: openai.Message{ToolCalls: []openai.ToolCall{
				{ID: "call_1", Function: openai.Function{Name: "Read", Arguments: "not json"}},
			}}},
		},
	}
	out, warnings := FromOpenAI(resp, "local-model")
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], ErrToolArgsMalformed)
	require.Len(t, out.Content, 1)
	assert.JSONEq(t, `{}`, string(out.Content[0].Input))
}

func TestConvertStopReason(t *testing.T) {
	assert.Equal(t, "end_turn", convertStopReason("stop"))
	assert.Equal(t, "max_tokens", convertStopReason("length"))
	assert.Equal(t, "tool_use", convertStopReason("tool_calls"))
}
