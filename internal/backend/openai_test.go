package backend

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collectChunks(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatal("timed out waiting for backend chunks")
		}
	}
}

func TestOpenAIClient_StreamsTextDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"Hello "},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"world"},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		"[DONE]",
	})

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL, Model: "local-model"})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "local-model", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	var texts []string
	var gotFinish bool
	for _, c := range chunks {
		switch c.Type {
		case ChunkTextDelta:
			texts = append(texts, c.Text)
		case ChunkFinish:
			gotFinish = true
			assert.Equal(t, "end_turn", c.FinishReason)
			assert.Equal(t, 5, c.Usage.InputTokens)
			assert.Equal(t, 2, c.Usage.OutputTokens)
		}
	}
	assert.Equal(t, []string{"Hello ", "world"}, texts)
	assert.True(t, gotFinish)
	assert.Equal(t, ChunkTextStart, chunks[0].Type)
	assert.Equal(t, ChunkTextEnd, chunks[len(chunks)-2].Type)
}

func TestOpenAIClient_StreamsToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"Read","arguments":""}}]},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"file_path\""}}]},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"/a\"}"}}]},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	})

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "local-model", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	require.Equal(t, ChunkToolInputStart, chunks[0].Type)
	assert.Equal(t, "call_1", chunks[0].ToolCallID)
	assert.Equal(t, "Read", chunks[0].ToolName)

	var args string
	for _, c := range chunks {
		if c.Type == ChunkToolInputDelta {
			args += c.PartialJSON
		}
	}
	assert.Equal(t, `{"file_path":"/a"}`, args)

	last := chunks[len(chunks)-1]
	assert.Equal(t, ChunkFinish, last.Type)
	assert.Equal(t, "tool_use", last.FinishReason)
}

func TestOpenAIClient_ReasoningThenTextClosesReasoningBlockFirst(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"reasoning_content":"let me think"},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"the answer is 4"},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		"[DONE]",
	})

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "local-model", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	var types []ChunkType
	for _, c := range chunks {
		types = append(types, c.Type)
	}
	require.Equal(t, []ChunkType{
		ChunkReasoningStart, ChunkReasoningDelta,
		ChunkReasoningEnd,
		ChunkTextStart, ChunkTextDelta,
		ChunkTextEnd,
		ChunkFinish,
	}, types, "reasoning block must close before the text block opens")
}

func TestOpenAIClient_TextThenToolCallClosesTextBlockFirst(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"let me read that file"},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"Read","arguments":"{}"}}]},"finish_reason":null}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	})

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "local-model", MaxTokens: 100})
	require.NoError(t, err)
	defer cancel()

	chunks := collectChunks(t, ch)
	var types []ChunkType
	for _, c := range chunks {
		types = append(types, c.Type)
	}
	require.Equal(t, []ChunkType{
		ChunkTextStart, ChunkTextDelta,
		ChunkTextEnd,
		ChunkToolInputStart, ChunkToolInputDelta,
		ChunkToolInputEnd,
		ChunkFinish,
	}, types, "text block must close before the tool_use block opens, so streamconv never sees overlapping indices")
}

func TestOpenAIClient_NonOKStatusReturnsErrorBeforeStreamOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "m", MaxTokens: 10})
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.Nil(t, cancel)
}

func TestOpenAIClient_PreflightRewritesMaxTokensAndToolSettings(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		var b []byte
		for scanner.Scan() {
			b = append(b, scanner.Bytes()...)
		}
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL})
	ch, cancel, err := client.Open(context.Background(), &anthropic.Request{Model: "m", MaxTokens: 256})
	require.NoError(t, err)
	defer cancel()
	collectChunks(t, ch)

	assert.Contains(t, gotBody, `"max_completion_tokens":256`)
	assert.NotContains(t, gotBody, `"max_tokens":256`)
	assert.Contains(t, gotBody, `"parallel_tool_calls":false`)
	assert.Contains(t, gotBody, `"cache_prompt":true`)
}

func TestOpenAIClient_CollapsesSystemNewlinesWhenConfigured(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		var b []byte
		for scanner.Scan() {
			b = append(b, scanner.Bytes()...)
		}
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAIClient(OpenAIClientConfig{Name: "local", BaseURL: srv.URL, CollapseSystemNewlines: true})
	req := &anthropic.Request{
		Model:     "m",
		MaxTokens: 10,
		System:    anthropic.System{Blocks: []anthropic.SystemBlock{{Type: "text", Text: "line one\nline two"}}},
	}
	ch, cancel, err := client.Open(context.Background(), req)
	require.NoError(t, err)
	defer cancel()
	collectChunks(t, ch)

	assert.Contains(t, gotBody, "line one line two")
	assert.NotContains(t, gotBody, `line one\nline two`)
}
