package convert

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/openai"
)

// Options configures the translation behaviors spec §4.2/§6 leaves
// tunable per deployment rather than hard-coded.
type Options struct {
	// StrictSystem rejects requests carrying more than one system block
	// instead of silently collapsing them.
	StrictSystem bool

	TruncateSystemPrompt  bool
	SystemPromptMaxTokens int
	Strategy              TruncateStrategy

	InjectToolInstructions       bool
	ToolInstructionStyle        string // "explicit" or "subtle"
	InjectionThreshold           float64
	MaxInjectionsPerConversation int
}

// Result carries ToOpenAI's translated request alongside whether this call
// spent one of the conversation's injection budget. OpenAIClient.Open, the
// only caller outside tests, passes injectedSoFar=0 and does not read
// Injected, so no injection count is carried across requests.
type Result struct {
	Request   *openai.Request
	Injected  bool
}

// ToOpenAI translates an Anthropic request into its OpenAI chat-completions
// equivalent. injectedSoFar is the number of prior requests in this
// conversation that already received the tool-use nudge.
func ToOpenAI(req *anthropic.Request, injectedSoFar int, opts Options) (*Result, error) {
	if opts.StrictSystem && len(req.System.Blocks) > 1 {
		return nil, fmt.Errorf("%w: %d system blocks", ErrSystemPromptTooMany, len(req.System.Blocks))
	}

	system := req.System.Text()
	injected := false
	if shouldInject(req, injectedSoFar, opts) {
		system = injectInstructions(system, opts.ToolInstructionStyle)
		injected = true
	}
	if opts.TruncateSystemPrompt {
		system = truncateSystem(system, opts.Strategy, opts.SystemPromptMaxTokens)
	}

	out := &openai.Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}
	if system != "" {
		out.Messages = append(out.Messages, openai.Message{Role: "system", Content: system})
	}

	knownToolUseIDs := make(map[string]bool)
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.Type == "tool_use" {
				knownToolUseIDs[b.ID] = true
			}
		}
	}

	for _, m := range req.Messages {
		translated, err := translateMessage(m, knownToolUseIDs)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, translated...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if req.ToolChoice != nil {
		out.ToolChoice = translateToolChoice(*req.ToolChoice)
	}

	return &Result{Request: out, Injected: injected}, nil
}

// translateMessage converts one Anthropic message into zero or more OpenAI
// messages. tool_result blocks each become their own tool-role message;
// the remaining blocks of the turn collapse into a single message so a
// turn mixing text and tool_use still maps the assistant's content and its
// tool_calls onto one OpenAI message, matching how OpenAI expects them.
func translateMessage(m anthropic.Message, knownToolUseIDs map[string]bool) ([]openai.Message, error) {
	var out []openai.Message
	var textParts []openai.Part
	var toolCalls []openai.ToolCall
	var plainText string
	multiPart := false

	for _, b := range m.Content {
		switch b.Type {
		case "text":
			plainText += b.Text
			textParts = append(textParts, openai.Part{Type: "text", Text: b.Text})
		case "image":
			multiPart = true
			textParts = append(textParts, openai.Part{Type: "image_url", ImageURL: &openai.ImageURL{URL: sourceToDataURI(b.Source)}})
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: openai.Function{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		case "tool_result":
			if !knownToolUseIDs[b.ToolUseID] {
				return nil, fmt.Errorf("%w: %s", ErrToolResultOrphan, b.ToolUseID)
			}
			out = append(out, openai.Message{
				Role:       "tool",
				Content:    toolResultText(b),
				ToolCallID: b.ToolUseID,
			})
		case "thinking":
			// The model's own chain-of-thought is not resent to the backend
			// on the next turn; OpenAI-style requests have no slot for it.
			continue
		case "document":
			return nil, fmt.Errorf("%w: document", ErrUnsupportedContentType)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, b.Type)
		}
	}

	if len(textParts) > 0 || len(toolCalls) > 0 {
		msg := openai.Message{Role: m.Role, ToolCalls: toolCalls}
		if multiPart {
			msg.Parts = textParts
		} else {
			msg.Content = plainText
		}
		out = append([]openai.Message{msg}, out...)
	}

	return out, nil
}

func sourceToDataURI(src *anthropic.BlockSource) string {
	if src == nil {
		return ""
	}
	if src.Type == "url" {
		return src.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
}

func toolResultText(b anthropic.ContentBlock) string {
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	return string(b.Content)
}

func translateToolChoice(tc anthropic.ToolChoice) any {
	switch tc.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		}
	default:
		return "auto"
	}
}

// FromOpenAI translates a complete, non-streaming OpenAI response into an
// Anthropic response. Malformed tool_calls[].function.arguments does not
// fail the whole response: input becomes {} and the malformed-args error
// is returned alongside the result as a non-fatal warning (spec §4.2,
// §7's "Internal, recovered" taxonomy).
func FromOpenAI(resp *openai.Response, model string) (*anthropic.Response, []error) {
	if len(resp.Choices) == 0 {
		return &anthropic.Response{ID: resp.ID, Type: "message", Role: "assistant", Model: model}, nil
	}
	choice := resp.Choices[0]
	var warnings []error
	var blocks []anthropic.ContentBlock

	if choice.Message.Content != "" {
		blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
			warnings = append(warnings, fmt.Errorf("%w: tool %s", ErrToolArgsMalformed, tc.Function.Name))
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		blocks = append(blocks, anthropic.ContentBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return &anthropic.Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: convertStopReason(choice.FinishReason),
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, warnings
}

// convertStopReason maps an OpenAI finish_reason to Anthropic's
// stop_reason vocabulary, grounded on orchestre-dev-ccproxy's
// convertStopReason.
func convertStopReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
