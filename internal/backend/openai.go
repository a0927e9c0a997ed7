package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/convert"
	"github.com/howard-nolan/claudeproxy/internal/openai"
	"github.com/howard-nolan/claudeproxy/internal/schema"
)

// OpenAIClientConfig configures an OpenAI-compatible backend — either the
// local inference server or a cloud OpenAI-compatible gateway (spec
// §4.6); the only difference between the two at the wire level is the
// base URL and whether CollapseSystemNewlines is needed.
type OpenAIClientConfig struct {
	Name       string // "local" or "openrouter"
	BaseURL    string
	APIKey     string
	Model      string // fallback when the request omits one
	HTTPClient *http.Client

	// CollapseSystemNewlines rewrites literal newlines in the system
	// message to single spaces — some backends fail on literal newlines
	// embedded in a JSON string value (spec §4.6).
	CollapseSystemNewlines bool

	Convert convert.Options
}

// OpenAIClient implements backend.Client against an OpenAI-compatible
// chat-completions endpoint. Grounded on the teacher's GoogleProvider:
// the same "translate, marshal, POST, goroutine-parse SSE" shape, but
// generalized to emit the uniform Chunk sum type instead of a
// provider-specific StreamChunk, and carrying the spec §4.6 pre-flight
// rewrites the teacher's single-Gemini-target version never needed.
type OpenAIClient struct {
	cfg OpenAIClientConfig
}

// NewOpenAIClient constructs a client ready to make API calls. A nil
// HTTPClient defaults to http.DefaultClient, matching the teacher's
// provider constructors taking a *http.Client parameter.
func NewOpenAIClient(cfg OpenAIClientConfig) *OpenAIClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OpenAIClient{cfg: cfg}
}

func (c *OpenAIClient) Name() string { return c.cfg.Name }

// Open translates req, applies the pre-flight rewrites and schema
// adaptation, and opens the upstream streaming call.
func (c *OpenAIClient) Open(ctx context.Context, req *anthropic.Request) (<-chan Chunk, CancelFunc, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	result, err := convert.ToOpenAI(req, 0, c.cfg.Convert)
	if err != nil {
		return nil, nil, fmt.Errorf("translating request: %w", err)
	}
	oaiReq := result.Request
	oaiReq.Model = model
	oaiReq.Stream = true

	applyPreflightRewrites(oaiReq, c.cfg.CollapseSystemNewlines)

	kind := schema.KindForModel(model)
	oaiReq.Tools = adaptToolSchemas(oaiReq.Tools, kind)

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("sending request to %s: %w", c.cfg.Name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, nil, fmt.Errorf("%s backend error (status %d): %v", c.cfg.Name, httpResp.StatusCode, errBody)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Chunk)

	go c.readStream(streamCtx, httpResp.Body, ch)

	return ch, CancelFunc(func() { cancel(); httpResp.Body.Close() }), nil
}

// applyPreflightRewrites implements spec §4.6's required rewrites on
// every outgoing OpenAI-compatible request. reasoning/service_tier never
// appear because openai.Request has no field for either — the rewrite
// "strip backend-unsupported keys" is satisfied by construction rather
// than by deleting anything at request-build time.
func applyPreflightRewrites(req *openai.Request, collapseNewlines bool) {
	req.MaxCompletionTokens = req.MaxTokens
	req.MaxTokens = 0

	no := false
	yes := true
	req.ParallelToolCalls = &no
	req.CachePrompt = &yes

	if !collapseNewlines {
		return
	}
	for i := range req.Messages {
		if req.Messages[i].Role == "system" {
			req.Messages[i].Content = strings.ReplaceAll(req.Messages[i].Content, "\n", " ")
		}
	}
}

// adaptToolSchemas runs every tool's input schema through the Schema
// Adapter for the resolved backend kind, dropping (and logging) any tool
// whose schema exceeds the nesting depth limit rather than failing the
// whole request (spec §4.1.6).
func adaptToolSchemas(tools []openai.Tool, kind schema.Kind) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var raw map[string]any
		if err := json.Unmarshal(t.Function.Parameters, &raw); err != nil {
			out = append(out, t)
			continue
		}
		resolved, err := schema.Resolve(kind, raw, schema.Options{})
		if err != nil {
			droppedToolsTotal.WithLabelValues("schema_too_deep").Inc()
			log.Printf("WARN dropping tool %q: %v", t.Function.Name, err)
			continue
		}
		encoded, err := json.Marshal(resolved)
		if err != nil {
			out = append(out, t)
			continue
		}
		t.Function.Parameters = encoded
		out = append(out, t)
	}
	return out
}

// readerState tracks which content kinds are mid-flight across SSE lines
// so the client can synthesize the start/end framing spec §4.3 expects
// from a backend chunk stream, since OpenAI's wire format has no
// equivalent of an explicit block boundary.
type readerState struct {
	textOpen      bool
	reasoningOpen bool
	toolIndex     map[int]string // index -> id, once seen
}

func (c *OpenAIClient) readStream(ctx context.Context, body io.ReadCloser, ch chan<- Chunk) {
	defer close(ch)
	defer body.Close()

	st := &readerState{toolIndex: make(map[int]string)}
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
		if payload == "[DONE]" {
			break
		}

		var chunk openai.StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			droppedChunksFromBackendTotal.WithLabelValues("unmarshal_error").Inc()
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if st.reasoningOpen {
				if !send(Chunk{Type: ChunkReasoningEnd}) {
					return
				}
				st.reasoningOpen = false
			}
			if !st.textOpen {
				if !send(Chunk{Type: ChunkTextStart}) {
					return
				}
				st.textOpen = true
			}
			if !send(Chunk{Type: ChunkTextDelta, Text: delta.Content}) {
				return
			}
		}
		if delta.Reasoning != "" {
			if st.textOpen {
				if !send(Chunk{Type: ChunkTextEnd}) {
					return
				}
				st.textOpen = false
			}
			if !st.reasoningOpen {
				if !send(Chunk{Type: ChunkReasoningStart}) {
					return
				}
				st.reasoningOpen = true
			}
			if !send(Chunk{Type: ChunkReasoningDelta, Text: delta.Reasoning}) {
				return
			}
		}

		if len(delta.ToolCalls) > 0 {
			if st.textOpen {
				if !send(Chunk{Type: ChunkTextEnd}) {
					return
				}
				st.textOpen = false
			}
			if st.reasoningOpen {
				if !send(Chunk{Type: ChunkReasoningEnd}) {
					return
				}
				st.reasoningOpen = false
			}
		}

		for _, tc := range delta.ToolCalls {
			id, seen := st.toolIndex[tc.Index]
			if !seen {
				id = tc.ID
				st.toolIndex[tc.Index] = id
				if !send(Chunk{Type: ChunkToolInputStart, ToolCallID: id, ToolName: tc.Function.Name}) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				if !send(Chunk{Type: ChunkToolInputDelta, ToolCallID: id, PartialJSON: tc.Function.Arguments}) {
					return
				}
			}
		}

		if choice.FinishReason != nil {
			if st.textOpen {
				if !send(Chunk{Type: ChunkTextEnd}) {
					return
				}
			}
			if st.reasoningOpen {
				if !send(Chunk{Type: ChunkReasoningEnd}) {
					return
				}
			}
			for _, id := range st.toolIndex {
				if !send(Chunk{Type: ChunkToolInputEnd, ToolCallID: id}) {
					return
				}
			}
			usage := Usage{}
			if chunk.Usage != nil {
				usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
			}
			send(Chunk{Type: ChunkFinish, FinishReason: convertFinishReason(*choice.FinishReason), Usage: usage})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(Chunk{Type: ChunkError, ErrorKind: "backend_protocol_error", ErrorMessage: err.Error()})
	}
}

// convertFinishReason maps an OpenAI finish_reason to Anthropic's
// stop_reason vocabulary, same mapping internal/convert.convertStopReason
// applies to atomic responses, duplicated here rather than exported
// across packages since the two call sites have no other reason to share
// an import.
func convertFinishReason(reason string) string {
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
