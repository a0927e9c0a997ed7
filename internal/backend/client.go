package backend

import (
	"context"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
)

// CancelFunc stops an in-flight Open call, closing the upstream socket.
// The Backpressure Pipeline calls it on client disconnect; the Proxy
// Handler calls it on timeout.
type CancelFunc func()

// Client is the uniform interface every concrete backend implements,
// spec §4.6's "open(request) -> (stream_of_chunks, cancel_fn)".
type Client interface {
	// Name identifies the backend kind for logging and response headers.
	Name() string

	// Open starts a streaming chat completion and returns a channel of
	// chunks in arrival order. The channel is closed after a finish or
	// error chunk, or when ctx is canceled. Open itself only returns an
	// error for failures that happen before the upstream stream opens
	// (connection refused, non-2xx on the initial response); once the
	// channel is handed back, all further failures surface as an error
	// chunk so callers that already sent SSE headers can still emit a
	// well-formed error event.
	Open(ctx context.Context, req *anthropic.Request) (<-chan Chunk, CancelFunc, error)
}

// Collect drains a Client's stream to completion and folds it into a
// single result, for the Proxy Handler's non-streaming (stream: false)
// path. It never looks at content_block framing; text/reasoning chunks
// accumulate by concatenation and tool chunks accumulate per tool-call-id,
// the same job the Stream Converter's state machine does, just folded
// into one value instead of re-emitted as SSE events.
type Collected struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCallResult
	Usage     Usage
	Finish    string
	Err       error
}

// ToolCallResult is one completed tool invocation folded out of the
// streamed or atomic chunk forms.
type ToolCallResult struct {
	ID    string
	Name  string
	Input []byte
}

// Collect consumes chunks until the channel closes and returns the folded
// result. It does not call cancel; the caller is still responsible for
// invoking it once Collect returns (normally a no-op at that point since
// the channel is already closed).
func Collect(chunks <-chan Chunk) Collected {
	var out Collected
	pending := map[string]*ToolCallResult{}
	order := []string{}

	for c := range chunks {
		switch c.Type {
		case ChunkTextDelta:
			out.Text += c.Text
		case ChunkReasoningDelta:
			out.Reasoning += c.Text
		case ChunkToolInputStart:
			if _, ok := pending[c.ToolCallID]; !ok {
				pending[c.ToolCallID] = &ToolCallResult{ID: c.ToolCallID, Name: c.ToolName}
				order = append(order, c.ToolCallID)
			}
		case ChunkToolInputDelta:
			t, ok := pending[c.ToolCallID]
			if !ok {
				t = &ToolCallResult{ID: c.ToolCallID}
				pending[c.ToolCallID] = t
				order = append(order, c.ToolCallID)
			}
			t.Input = append(t.Input, []byte(c.PartialJSON)...)
		case ChunkToolInputEnd:
			// nothing to fold; input bytes already accumulated
		case ChunkToolCall:
			t, ok := pending[c.ToolCallID]
			if !ok {
				t = &ToolCallResult{ID: c.ToolCallID, Name: c.ToolName, Input: c.ToolInput}
				pending[c.ToolCallID] = t
				order = append(order, c.ToolCallID)
			} else if len(t.Input) == 0 {
				t.Input = c.ToolInput
				if t.Name == "" {
					t.Name = c.ToolName
				}
			}
		case ChunkFinish:
			out.Finish = c.FinishReason
			out.Usage = c.Usage
		case ChunkError:
			out.Err = &Error{Kind: c.ErrorKind, Message: c.ErrorMessage}
		}
	}

	for _, id := range order {
		out.ToolCalls = append(out.ToolCalls, *pending[id])
	}
	return out
}

// Error is the backend-facing error kind/message pair of spec §7's
// "Client-visible, during-stream" taxonomy.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}
