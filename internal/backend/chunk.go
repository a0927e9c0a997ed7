// Package backend defines the uniform streaming interface every concrete
// upstream (local OpenAI-compatible server, cloud OpenAI-compatible
// gateway, Anthropic pass-through, mlx-cluster) is translated into, and
// the backend clients themselves.
//
// The shape follows the teacher's Provider interface
// (internal/provider/provider.go): one method that opens a streaming call
// and hands back a channel of typed chunks. Collapsed to a single
// streaming method rather than the teacher's separate
// ChatCompletion/ChatCompletionStream pair, since every caller in this
// system wants the stream — the Proxy Handler's non-streaming path drains
// it into one buffered response instead of duplicating the backend call.
package backend

import "encoding/json"

// ChunkType enumerates the backend chunk sum type of spec §3/§4.3.
type ChunkType string

const (
	ChunkTextStart      ChunkType = "text_start"
	ChunkTextDelta      ChunkType = "text_delta"
	ChunkTextEnd        ChunkType = "text_end"
	ChunkReasoningStart ChunkType = "reasoning_start"
	ChunkReasoningDelta ChunkType = "reasoning_delta"
	ChunkReasoningEnd   ChunkType = "reasoning_end"
	ChunkToolInputStart ChunkType = "tool_input_start"
	ChunkToolInputDelta ChunkType = "tool_input_delta"
	ChunkToolInputEnd   ChunkType = "tool_input_end"
	ChunkToolCall       ChunkType = "tool_call"
	ChunkFinish         ChunkType = "finish"
	ChunkError          ChunkType = "error"
)

// Chunk is one element of the lazy sequence a Client yields. Like
// anthropic.ContentBlock and anthropic.Event, it's a tagged union: Type
// says which other fields are meaningful. Zero values stand in for
// "not present" in every other variant, the same convention the teacher
// uses for its streaming event wrapper in provider/anthropic.go.
type Chunk struct {
	Type ChunkType

	// text_delta / reasoning_delta
	Text string

	// tool_input_start / tool_input_delta / tool_input_end / tool_call
	ToolCallID   string
	ToolName     string
	PartialJSON  string
	ToolInput    json.RawMessage

	// finish
	FinishReason string
	Usage        Usage

	// error
	ErrorKind    string
	ErrorMessage string
}

// Usage mirrors token accounting as reported by the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
