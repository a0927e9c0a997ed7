package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicClientConfig configures the pass-through backend client.
type AnthropicClientConfig struct {
	Name       string // "anthropic"
	BaseURL    string // e.g. https://api.anthropic.com
	APIKey     string
	Model      string // fallback when the request omits one
	HTTPClient *http.Client
}

// AnthropicClient forwards requests to the real Anthropic Messages API
// unmodified and re-parses its own SSE wire format back into the uniform
// backend.Chunk sequence, so the Stream Converter still governs indexing,
// the 128-block cap, and keepalive/backpressure identically regardless of
// which backend is selected (spec §4.6: "pass the request straight
// through, wire format already matches").
//
// Grounded directly on the teacher's AnthropicProvider
// (internal/provider/anthropic.go): same header set
// (x-api-key/anthropic-version), same POST-then-scan-SSE-lines goroutine
// shape. The teacher stops at folding the stream into one ChatResponse;
// this client instead re-emits the same events as Chunks, since spec §4.3
// requires every backend's output look identical downstream.
type AnthropicClient struct {
	cfg AnthropicClientConfig
}

func NewAnthropicClient(cfg AnthropicClientConfig) *AnthropicClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicClient{cfg: cfg}
}

func (c *AnthropicClient) Name() string { return c.cfg.Name }

func (c *AnthropicClient) Open(ctx context.Context, req *anthropic.Request) (<-chan Chunk, CancelFunc, error) {
	outReq := *req
	if outReq.Model == "" {
		outReq.Model = c.cfg.Model
	}
	outReq.Stream = true

	body, err := json.Marshal(outReq)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	}

	httpResp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("sending request to anthropic: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errResp anthropic.ErrorResponse
		json.NewDecoder(httpResp.Body).Decode(&errResp)
		return nil, nil, fmt.Errorf("anthropic backend error (status %d): %s", httpResp.StatusCode, errResp.Error.Message)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Chunk)

	go c.readStream(streamCtx, httpResp.Body, ch)

	return ch, CancelFunc(func() { cancel(); httpResp.Body.Close() }), nil
}

// wireIn mirrors the Anthropic SSE event envelope for decoding, parallel
// to anthropic.Event's wireEvent used for encoding the client-facing side.
type wireIn struct {
	Type         string                   `json:"type"`
	Message      *anthropic.EventMessage  `json:"message,omitempty"`
	Index        *int                     `json:"index,omitempty"`
	ContentBlock *anthropic.ContentBlock  `json:"content_block,omitempty"`
	Delta        *wireInDelta             `json:"delta,omitempty"`
	Usage        *anthropic.Usage         `json:"usage,omitempty"`
	Error        *anthropic.ErrorDetail   `json:"error,omitempty"`
}

type wireInDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// blockTracker correlates content_block_start/delta/stop events by index,
// the same correlation problem internal/streamconv.State solves on the
// outgoing side, needed here because content_block_delta/stop carry only
// an index, not the id or kind.
type blockTracker struct {
	kind       map[int]string
	id         map[int]string
	stopReason string
}

func newBlockTracker() *blockTracker {
	return &blockTracker{kind: make(map[int]string), id: make(map[int]string)}
}

func (c *AnthropicClient) readStream(ctx context.Context, body io.ReadCloser, ch chan<- Chunk) {
	defer close(ch)
	defer body.Close()

	tracker := newBlockTracker()
	var usage Usage
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	send := func(c Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var ev wireIn
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			droppedChunksFromBackendTotal.WithLabelValues("unmarshal_error").Inc()
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			if ev.Index == nil || ev.ContentBlock == nil {
				continue
			}
			idx := *ev.Index
			switch ev.ContentBlock.Type {
			case "text":
				tracker.kind[idx] = "text"
				if !send(Chunk{Type: ChunkTextStart}) {
					return
				}
			case "thinking":
				tracker.kind[idx] = "thinking"
				if !send(Chunk{Type: ChunkReasoningStart}) {
					return
				}
			case "tool_use":
				tracker.kind[idx] = "tool_use"
				tracker.id[idx] = ev.ContentBlock.ID
				if !send(Chunk{Type: ChunkToolInputStart, ToolCallID: ev.ContentBlock.ID, ToolName: ev.ContentBlock.Name}) {
					return
				}
			}

		case "content_block_delta":
			if ev.Index == nil || ev.Delta == nil {
				continue
			}
			idx := *ev.Index
			switch ev.Delta.Type {
			case "text_delta":
				if !send(Chunk{Type: ChunkTextDelta, Text: ev.Delta.Text}) {
					return
				}
			case "thinking_delta":
				if !send(Chunk{Type: ChunkReasoningDelta, Text: ev.Delta.Thinking}) {
					return
				}
			case "input_json_delta":
				id := tracker.id[idx]
				if !send(Chunk{Type: ChunkToolInputDelta, ToolCallID: id, PartialJSON: ev.Delta.PartialJSON}) {
					return
				}
			}

		case "content_block_stop":
			if ev.Index == nil {
				continue
			}
			idx := *ev.Index
			switch tracker.kind[idx] {
			case "text":
				if !send(Chunk{Type: ChunkTextEnd}) {
					return
				}
			case "thinking":
				if !send(Chunk{Type: ChunkReasoningEnd}) {
					return
				}
			case "tool_use":
				if !send(Chunk{Type: ChunkToolInputEnd, ToolCallID: tracker.id[idx]}) {
					return
				}
			}

		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				tracker.stopReason = ev.Delta.StopReason
			}

		case "message_stop":
			send(Chunk{Type: ChunkFinish, FinishReason: tracker.stopReason, Usage: usage})
			return

		case "error":
			if ev.Error != nil {
				send(Chunk{Type: ChunkError, ErrorKind: ev.Error.Type, ErrorMessage: ev.Error.Message})
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(Chunk{Type: ChunkError, ErrorKind: "backend_protocol_error", ErrorMessage: err.Error()})
	}
}
