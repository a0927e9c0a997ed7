// Package streamconv is the finite-state transducer that turns a lazy
// sequence of backend.Chunk values into a lazy sequence of anthropic.Event
// values — the hardest subsystem per the spec this gateway implements,
// and the one the teacher's own SSE-parsing loops in
// internal/provider/anthropic.go and internal/provider/google.go are
// generalized from: a single goroutine reading one channel and writing
// another, holding all its mutable state in one struct per the redesign
// note against closure-captured state.
package streamconv

import (
	"context"

	"github.com/google/uuid"
	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/backend"
)

// Convert starts the transducer goroutine and returns the output event
// channel. It closes the channel when in closes or ctx is canceled. model
// is echoed into message_start the way the client's request named it.
func Convert(ctx context.Context, model string, in <-chan backend.Chunk) <-chan anthropic.Event {
	out := make(chan anthropic.Event)
	go run(ctx, model, in, out)
	return out
}

func run(ctx context.Context, model string, in <-chan backend.Chunk, out chan<- anthropic.Event) {
	defer close(out)
	s := NewState()

	send := func(e anthropic.Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(anthropic.Event{
		Type: anthropic.EventMessageStart,
		Message: &anthropic.EventMessage{
			ID:    "msg_" + uuid.NewString(),
			Type:  "message",
			Role:  "assistant",
			Model: model,
		},
	}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				if !s.finishEmitted {
					if !s.closeOpenEntries(send) {
						return
					}
					send(anthropic.Event{Type: anthropic.EventMessageDelta, MessageDeltaInfo: &anthropic.MessageDeltaInfo{StopReason: "end_turn"}})
					send(anthropic.Event{Type: anthropic.EventMessageStop})
				}
				return
			}
			if !s.handle(c, send) {
				return
			}
			if s.finishEmitted {
				return
			}
		}
	}
}

// handle applies one backend chunk's transition from spec §4.3's table.
// It returns false only when the producer should stop because send()
// observed context cancellation; every other outcome (including a
// recoverable drop) returns true so the loop continues.
func (s *State) handle(c backend.Chunk, send func(anthropic.Event) bool) bool {
	switch c.Type {

	case backend.ChunkTextStart:
		idx, ok := s.allocIndex()
		s.open = &openBlock{kind: "text", index: idx, suppressed: !ok}
		if !ok {
			return true
		}
		return send(anthropic.Event{Type: anthropic.EventContentBlockStart, Index: idx, Block: &anthropic.ContentBlock{Type: "text"}})

	case backend.ChunkTextDelta:
		if s.open == nil || s.open.kind != "text" {
			droppedChunksTotal.WithLabelValues("unknown_chunk").Inc()
			return true
		}
		if s.open.suppressed {
			return true
		}
		return send(anthropic.Event{Type: anthropic.EventContentBlockDelta, Index: s.open.index, Delta: &anthropic.Delta{Type: anthropic.DeltaText, Text: c.Text}})

	case backend.ChunkTextEnd:
		if s.open == nil || s.open.kind != "text" {
			droppedChunksTotal.WithLabelValues("unknown_chunk").Inc()
			return true
		}
		ok := true
		if !s.open.suppressed {
			ok = send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: s.open.index})
		}
		s.open = nil
		return ok

	case backend.ChunkReasoningStart:
		idx, ok := s.allocIndex()
		s.open = &openBlock{kind: "thinking", index: idx, suppressed: !ok}
		if !ok {
			return true
		}
		return send(anthropic.Event{Type: anthropic.EventContentBlockStart, Index: idx, Block: &anthropic.ContentBlock{Type: "thinking"}})

	case backend.ChunkReasoningDelta:
		if s.open == nil || s.open.kind != "thinking" {
			droppedChunksTotal.WithLabelValues("unknown_chunk").Inc()
			return true
		}
		if s.open.suppressed {
			return true
		}
		return send(anthropic.Event{Type: anthropic.EventContentBlockDelta, Index: s.open.index, Delta: &anthropic.Delta{Type: anthropic.DeltaThinking, Thinking: c.Text}})

	case backend.ChunkReasoningEnd:
		if s.open == nil || s.open.kind != "thinking" {
			droppedChunksTotal.WithLabelValues("unknown_chunk").Inc()
			return true
		}
		ok := true
		if !s.open.suppressed {
			ok = send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: s.open.index})
		}
		s.open = nil
		return ok

	case backend.ChunkToolInputStart:
		if c.ToolCallID == "" {
			droppedChunksTotal.WithLabelValues("tool_call_missing_id").Inc()
			return true
		}
		idx, ok := s.allocIndex()
		entry := &toolEntry{name: c.ToolName, index: idx}
		if !ok {
			entry.index = -1
		}
		s.tools[c.ToolCallID] = entry
		if !ok {
			return true
		}
		return send(anthropic.Event{Type: anthropic.EventContentBlockStart, Index: idx, Block: &anthropic.ContentBlock{
			Type: "tool_use", ID: c.ToolCallID, Name: c.ToolName, Input: []byte("{}"),
		}})

	case backend.ChunkToolInputDelta:
		if c.ToolCallID == "" {
			droppedChunksTotal.WithLabelValues("tool_call_missing_id").Inc()
			return true
		}
		entry, exists := s.tools[c.ToolCallID]
		if !exists {
			// Out-of-order backend: synthesize the missing start so the
			// block still appears with a valid index (spec §4.3).
			idx, ok := s.allocIndex()
			entry = &toolEntry{index: idx}
			if !ok {
				entry.index = -1
			}
			s.tools[c.ToolCallID] = entry
			if ok {
				if !send(anthropic.Event{Type: anthropic.EventContentBlockStart, Index: idx, Block: &anthropic.ContentBlock{
					Type: "tool_use", ID: c.ToolCallID, Input: []byte("{}"),
				}}) {
					return false
				}
			}
		}
		entry.receivedAnyDelta = true
		if entry.suppressed() {
			return true
		}
		return send(anthropic.Event{Type: anthropic.EventContentBlockDelta, Index: entry.index, Delta: &anthropic.Delta{Type: anthropic.DeltaInputJSON, PartialJSON: c.PartialJSON}})

	case backend.ChunkToolInputEnd:
		if c.ToolCallID == "" {
			droppedChunksTotal.WithLabelValues("tool_call_missing_id").Inc()
			return true
		}
		entry, exists := s.tools[c.ToolCallID]
		if !exists {
			droppedChunksTotal.WithLabelValues("unknown_chunk").Inc()
			return true
		}
		if !entry.receivedAnyDelta {
			// Retain the entry: some backends emit only the atomic form
			// after this, spec §4.3.
			return true
		}
		ok := true
		if !entry.suppressed() {
			ok = send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: entry.index})
		}
		delete(s.tools, c.ToolCallID)
		s.completedTools[c.ToolCallID] = true
		return ok

	case backend.ChunkToolCall:
		if c.ToolCallID == "" {
			droppedChunksTotal.WithLabelValues("tool_call_missing_id").Inc()
			return true
		}
		entry, exists := s.tools[c.ToolCallID]
		switch {
		case exists && entry.receivedAnyDelta:
			droppedChunksTotal.WithLabelValues("duplicate_tool_call").Inc()
			return true
		case exists:
			ok := true
			if !entry.suppressed() {
				ok = send(anthropic.Event{Type: anthropic.EventContentBlockDelta, Index: entry.index, Delta: &anthropic.Delta{Type: anthropic.DeltaInputJSON, PartialJSON: string(c.ToolInput)}})
				if ok {
					ok = send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: entry.index})
				}
			}
			delete(s.tools, c.ToolCallID)
			s.completedTools[c.ToolCallID] = true
			return ok
		case s.completedTools[c.ToolCallID] || s.atomicTools[c.ToolCallID]:
			droppedChunksTotal.WithLabelValues("duplicate_tool_call").Inc()
			return true
		default:
			idx, ok := s.allocIndex()
			s.atomicTools[c.ToolCallID] = true
			if !ok {
				return true
			}
			if !send(anthropic.Event{Type: anthropic.EventContentBlockStart, Index: idx, Block: &anthropic.ContentBlock{
				Type: "tool_use", ID: c.ToolCallID, Name: c.ToolName, Input: c.ToolInput,
			}}) {
				return false
			}
			return send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: idx})
		}

	case backend.ChunkFinish:
		if !s.closeOpenEntries(send) {
			return false
		}
		if !send(anthropic.Event{Type: anthropic.EventMessageDelta, MessageDeltaInfo: &anthropic.MessageDeltaInfo{
			StopReason: c.FinishReason,
			Usage:      &anthropic.Usage{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens},
		}}) {
			return false
		}
		ok := send(anthropic.Event{Type: anthropic.EventMessageStop})
		s.finishEmitted = true
		return ok

	case backend.ChunkError:
		if !send(anthropic.Event{Type: anthropic.EventError, Error: &anthropic.ErrorDetail{Type: c.ErrorKind, Message: c.ErrorMessage}}) {
			return false
		}
		ok := send(anthropic.Event{Type: anthropic.EventMessageStop})
		s.finishEmitted = true
		return ok

	default:
		droppedChunksTotal.WithLabelValues("unknown_chunk").Inc()
		return true
	}
}

// closeOpenEntries flushes any block still open when a finish chunk
// arrives, or when the backend channel closes without one — spec §4.3's
// "close any still-open streaming-tool entries". Every content_block_stop
// emitted here pairs with a start that already went out, so the invariant
// "every start has a matching stop" holds even on an early or implicit
// finish.
func (s *State) closeOpenEntries(send func(anthropic.Event) bool) bool {
	if s.open != nil {
		if !s.open.suppressed {
			if !send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: s.open.index}) {
				return false
			}
		}
		s.open = nil
	}
	for id, entry := range s.tools {
		if !entry.suppressed() {
			if !send(anthropic.Event{Type: anthropic.EventContentBlockStop, Index: entry.index}) {
				return false
			}
		}
		delete(s.tools, id)
	}
	return true
}
