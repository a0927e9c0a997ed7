package anthropic

import "encoding/json"

// EventType enumerates the Anthropic streaming event variants of spec §3.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
)

// Event is a single SSE event the Stream Converter emits. Like
// ContentBlock, it is a tagged union: Type says which of the other fields
// are meaningful.
type Event struct {
	Type EventType

	// message_start
	Message *EventMessage

	// content_block_start
	Index int
	Block *ContentBlock

	// content_block_delta
	Delta *Delta

	// message_delta
	MessageDeltaInfo *MessageDeltaInfo

	// error
	Error *ErrorDetail
}

// EventMessage is the partial message envelope sent with message_start.
type EventMessage struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Role  string `json:"role"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// DeltaType enumerates the content_block_delta payload variants.
type DeltaType string

const (
	DeltaText       DeltaType = "text_delta"
	DeltaInputJSON  DeltaType = "input_json_delta"
	DeltaThinking   DeltaType = "thinking_delta"
)

// Delta is the payload of a content_block_delta event.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
	Thinking    string    `json:"thinking,omitempty"`
}

// MessageDeltaInfo is the payload of a message_delta event.
type MessageDeltaInfo struct {
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

// wireEvent is the JSON shape actually written to the SSE body. Encode
// produces one of these per Event, omitting fields the variant doesn't use
// the same way the teacher's sseChunk omits FinishReason/Usage until the
// final chunk.
type wireEvent struct {
	Type         EventType         `json:"type"`
	Message      *EventMessage     `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        any               `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`
}

// Encode renders the event as the minified JSON payload that goes after
// "data: " in the SSE frame.
func (e Event) Encode() ([]byte, error) {
	w := wireEvent{Type: e.Type}
	switch e.Type {
	case EventMessageStart:
		w.Message = e.Message
	case EventContentBlockStart:
		idx := e.Index
		w.Index = &idx
		w.ContentBlock = e.Block
	case EventContentBlockDelta:
		idx := e.Index
		w.Index = &idx
		w.Delta = e.Delta
	case EventContentBlockStop:
		idx := e.Index
		w.Index = &idx
	case EventMessageDelta:
		w.Delta = struct {
			StopReason string `json:"stop_reason,omitempty"`
		}{e.MessageDeltaInfo.StopReason}
		w.Usage = e.MessageDeltaInfo.Usage
	case EventMessageStop, EventPing:
		// no payload beyond type
	case EventError:
		w.Error = e.Error
	}
	return json.Marshal(w)
}
