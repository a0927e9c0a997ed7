// Package openai defines the request/response shapes of the
// OpenAI-compatible chat-completions dialect that backend clients speak.
// It plays the same role the teacher's provider package's unified
// ChatRequest/ChatResponse play, but is shaped to match the wire format
// exactly (including tool_calls) since Message Converter translates
// directly into and out of it rather than through a third unified type.
package openai

import "encoding/json"

// Request is the body POSTed to /v1/chat/completions.
type Request struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Tools             []Tool    `json:"tools,omitempty"`
	ToolChoice        any       `json:"tool_choice,omitempty"`
	Stream            bool      `json:"stream,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	MaxCompletionTokens int     `json:"max_completion_tokens,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	TopP              *float64  `json:"top_p,omitempty"`
	Stop              []string  `json:"stop,omitempty"`
	ParallelToolCalls *bool     `json:"parallel_tool_calls,omitempty"`
	CachePrompt       *bool     `json:"cache_prompt,omitempty"`
}

// Message is one chat message. Content is either a plain string or an
// ordered sequence of parts (text/image_url); we keep both fields and let
// the marshaler pick based on which is populated, the same optional-field
// pattern the teacher uses throughout its Gemini/Anthropic request types.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Parts      []Part     `json:"-"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			alias
			Content []Part `json:"content"`
		}{alias(m), m.Parts})
	}
	return json.Marshal(struct {
		alias
		Content string `json:"content"`
	}{alias(m), m.Content})
}

// Part is one element of a multi-part message content array.
type Part struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data: URI or direct URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is one function invocation requested by the assistant.
type ToolCall struct {
	Index    int      `json:"index,omitempty"`
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function carries the tool name and its JSON-encoded argument string.
type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function tool definition offered to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function payload of a Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Response is a complete, non-streaming chat-completion response.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one generated completion.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage mirrors OpenAI's prompt/completion token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one SSE "data:" payload from /v1/chat/completions with
// stream:true.
type StreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// StreamChoice is one choice's incremental delta.
type StreamChoice struct {
	Index        int            `json:"index"`
	Delta        StreamDelta    `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// StreamDelta carries the incremental content and/or tool-call fragments.
type StreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	Reasoning string           `json:"reasoning_content,omitempty"`
	ToolCalls []StreamToolCall `json:"tool_calls,omitempty"`
}

// StreamToolCall is one incremental tool-call fragment, correlated by
// Index (always present) and/or ID (present on the first fragment).
type StreamToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function StreamToolCallFn `json:"function"`
}

// StreamToolCallFn carries the name (first fragment only) and an
// incremental slice of the JSON argument string.
type StreamToolCallFn struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
