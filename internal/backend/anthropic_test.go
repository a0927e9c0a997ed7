package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
)

func TestAnthropicClient_StreamsTextBlock(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","usage":{"input_tokens":10,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`,
		`{"type":"message_stop"}`,
	})

	client := NewAnthropicClient(AnthropicClientConfig{Name: "anthropic", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "claude", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 4)
	assert.Equal(t, ChunkTextStart, chunks[0].Type)
	assert.Equal(t, ChunkTextDelta, chunks[1].Type)
	assert.Equal(t, "Hello", chunks[1].Text)
	assert.Equal(t, ChunkTextEnd, chunks[2].Type)
	assert.Equal(t, ChunkFinish, chunks[3].Type)
	assert.Equal(t, "end_turn", chunks[3].FinishReason)
	assert.Equal(t, 10, chunks[3].Usage.InputTokens)
	assert.Equal(t, 3, chunks[3].Usage.OutputTokens)
}

func TestAnthropicClient_StreamsToolUseBlock(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":4,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"Read","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"file_path\":\"/a\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":6}}`,
		`{"type":"message_stop"}`,
	})

	client := NewAnthropicClient(AnthropicClientConfig{Name: "anthropic", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "claude", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 4)
	assert.Equal(t, ChunkToolInputStart, chunks[0].Type)
	assert.Equal(t, "toolu_1", chunks[0].ToolCallID)
	assert.Equal(t, "Read", chunks[0].ToolName)
	assert.Equal(t, ChunkToolInputDelta, chunks[1].Type)
	assert.Equal(t, "toolu_1", chunks[1].ToolCallID)
	assert.Equal(t, `{"file_path":"/a"}`, chunks[1].PartialJSON)
	assert.Equal(t, ChunkToolInputEnd, chunks[2].Type)
	assert.Equal(t, "tool_use", chunks[3].FinishReason)
}

func TestAnthropicClient_MidStreamErrorEventEmitsErrorChunk(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":1,"output_tokens":0}}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"upstream overloaded"}}`,
	})

	client := NewAnthropicClient(AnthropicClientConfig{Name: "anthropic", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "claude", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkError, chunks[0].Type)
	assert.Equal(t, "overloaded_error", chunks[0].ErrorKind)
}

func TestAnthropicClient_NonOKStatusReturnsErrorBeforeStreamOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewAnthropicClient(AnthropicClientConfig{Name: "anthropic", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "claude", MaxTokens: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
	assert.Nil(t, ch)
	assert.Nil(t, cancel)
}

func TestAnthropicClient_ForwardsAuthHeadersAndVersion(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`data: {"type":"message_stop"}` + "\n\n"))
	}))
	t.Cleanup(srv.Close)

	client := NewAnthropicClient(AnthropicClientConfig{Name: "anthropic", BaseURL: srv.URL, APIKey: "sk-test"})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "claude", MaxTokens: 10})
	require.NoError(t, err)
	defer cancel()
	collectChunks(t, ch)

	assert.Equal(t, "sk-test", gotKey)
	assert.Equal(t, anthropicAPIVersion, gotVersion)
}
