// Package anthropic defines the request, message, and streaming-event
// shapes of the Anthropic Messages API that this gateway speaks to clients.
//
// These types are the wire format on the client-facing side of the proxy —
// every other package translates into or out of them. Content blocks are
// represented as a tagged union the same way the teacher's provider package
// represents backend chunks: one struct with every variant's fields, a
// Type string that says which ones are populated, and zero values standing
// in for "not present".
package anthropic

import "encoding/json"

// Request is the body of a POST /v1/messages call.
type Request struct {
	Model         string        `json:"model"`
	System        System        `json:"system,omitempty"`
	Messages      []Message     `json:"messages"`
	Tools         []Tool        `json:"tools,omitempty"`
	ToolChoice    *ToolChoice   `json:"tool_choice,omitempty"`
	MaxTokens     int           `json:"max_tokens"`
	Stream        bool          `json:"stream,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
}

// System is the system prompt. It is either a single string or an ordered
// sequence of text blocks, each optionally bearing a cache-control hint.
// UnmarshalJSON accepts both shapes; MarshalJSON emits the block-sequence
// shape, except that a System with no blocks marshals as the string "".
type System struct {
	Blocks []SystemBlock
}

// SystemBlock is one piece of the system prompt.
type SystemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl is a prompt-cache hint attached to a system block.
type CacheControl struct {
	Type string `json:"type"`
}

func (s *System) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Blocks = []SystemBlock{{Type: "text", Text: str}}
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	s.Blocks = blocks
	return nil
}

func (s System) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(s.Blocks)
}

// Text concatenates the block text, the way callers that don't care about
// cache-control hints want it.
func (s System) Text() string {
	var out string
	for i, b := range s.Blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// Message is one turn in the conversation.
type Message struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one element of a message's content array. Only the
// fields relevant to Type are populated; the rest are zero values, the
// same "put every variant's fields in one struct" approach the teacher
// uses for Anthropic's own streaming events in provider/anthropic.go.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// reasoning
	Thinking string `json:"thinking,omitempty"`

	// image / document
	Source *BlockSource `json:"source,omitempty"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// BlockSource carries the bytes/URL for an image or document block.
type BlockSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice constrains which tool (if any) the model must call.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", "tool", "none"
	Name string `json:"name,omitempty"`
}

// Response is the body returned for a non-streaming request.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
}

// Usage mirrors Anthropic's input/output token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is the JSON body returned for pre-stream failures.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the taxonomy kind and a human message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
