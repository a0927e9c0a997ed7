package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/backend"
	"github.com/howard-nolan/claudeproxy/internal/cluster"
	"github.com/howard-nolan/claudeproxy/internal/pipeline"
	"github.com/howard-nolan/claudeproxy/internal/streamconv"
)

// writeError writes the Anthropic-shaped error envelope spec §4.5/§7 uses
// for every pre-stream failure. Kept as a free function, not a method,
// since no handler state is needed to emit one.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(anthropic.ErrorResponse{
		Type:  "error",
		Error: anthropic.ErrorDetail{Type: kind, Message: message},
	})
}

// handleClusterStatus renders the Cluster Router's node table as JSON for
// the ambient GET /v1/cluster/status introspection route (spec §9 module
// list's addition, no equivalent in the teacher). 404s when the backend
// isn't mlx-cluster, since there's no router to ask.
func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	if s.clusterRouter == nil {
		writeError(w, http.StatusNotFound, "not_found_error", "cluster status is only available when backend is mlx-cluster")
		return
	}
	snap, err := s.clusterRouter.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// handleMessages handles POST /v1/messages: decode the Anthropic-shaped
// request, enforce the auth/size/timeout guards of spec §4.5/§5/§7, open
// the backend stream, and branch to the streaming or buffered response
// path. Kept as the architectural skeleton of the teacher's
// handleChatCompletions — decode, resolve, branch stream/non-stream,
// write — generalized to this gateway's Anthropic-facing contract.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" {
		got := r.Header.Get("x-api-key")
		if got == "" {
			if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				got = auth[7:]
			}
		}
		if got != s.cfg.AuthToken {
			writeError(w, http.StatusUnauthorized, "authentication_error", "missing or invalid API key")
			return
		}
	}

	maxBody := s.cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 100 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	var req anthropic.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}

	totalTimeout, firstByteTimeout := s.requestDeadlines()
	ctx, cancel := context.WithTimeout(r.Context(), totalTimeout)
	defer cancel()

	w.Header().Set("X-Claudeproxy-Backend", s.client.Name())
	w.Header().Set("X-Claudeproxy-Model", req.Model)

	chunks, backendCancel, err := s.client.Open(ctx, &req)
	if err != nil {
		if errors.Is(err, cluster.ErrNoHealthyNodes) {
			writeError(w, http.StatusServiceUnavailable, "overloaded_error", "no healthy backend nodes available")
			return
		}
		if ctx.Err() != nil {
			writeError(w, http.StatusGatewayTimeout, "timeout_error", "request timed out opening backend stream")
			return
		}
		s.log.Warnf("backend open error: %v", err)
		writeError(w, http.StatusBadGateway, "api_error", "backend error: "+err.Error())
		return
	}

	if req.Stream {
		s.streamResponse(ctx, w, r, &req, chunks, backendCancel, firstByteTimeout)
		return
	}
	s.bufferedResponse(ctx, w, &req, chunks, backendCancel)
}

// streamResponse runs the Stream Converter and Backpressure Pipeline in
// sequence, enforcing the time-to-first-byte budget spec §5 names
// separately from the total request timeout: if no event arrives from the
// converter before firstByteTimeout elapses, the backend call is canceled
// and a 504 is written (possible only because headers haven't been sent
// yet at that point).
func (s *Server) streamResponse(ctx context.Context, w http.ResponseWriter, r *http.Request, req *anthropic.Request, chunks <-chan backend.Chunk, cancel backend.CancelFunc, firstByteTimeout time.Duration) {
	events := streamconv.Convert(ctx, req.Model, chunks)

	firstByteCtx, firstByteCancel := context.WithTimeout(ctx, firstByteTimeout)
	defer firstByteCancel()

	select {
	case first, ok := <-events:
		if !ok {
			return
		}
		if s.trace != nil {
			s.trace.WriteTrace(s.client.Name(), time.Now(), r.Header, mustJSON(req), nil)
		}
		merged := mergeFirst(first, events)
		if err := pipeline.Pipe(ctx, w, merged, cancel); err != nil {
			s.log.Debugf("pipeline error: %v", err)
		}
	case <-firstByteCtx.Done():
		cancel()
		writeError(w, http.StatusGatewayTimeout, "timeout_error", "backend did not respond before the first-byte deadline")
	case <-ctx.Done():
		cancel()
	}
}

// mergeFirst re-prepends an already-received event onto the channel
// pipeline.Pipe reads from, so the first-byte deadline race in
// streamResponse doesn't require pipeline.Pipe itself to know about it.
func mergeFirst(first anthropic.Event, rest <-chan anthropic.Event) <-chan anthropic.Event {
	out := make(chan anthropic.Event)
	go func() {
		defer close(out)
		out <- first
		for e := range rest {
			out <- e
		}
	}()
	return out
}

// bufferedResponse drains the backend stream into one Anthropic response
// for stream:false requests, per spec §4.5.4's "run the stream to
// completion into a buffer".
func (s *Server) bufferedResponse(ctx context.Context, w http.ResponseWriter, req *anthropic.Request, chunks <-chan backend.Chunk, cancel backend.CancelFunc) {
	done := make(chan backend.Collected, 1)
	go func() { done <- backend.Collect(chunks) }()

	select {
	case <-ctx.Done():
		cancel()
		writeError(w, http.StatusGatewayTimeout, "timeout_error", "request timed out")
		return
	case result := <-done:
		if result.Err != nil {
			writeError(w, http.StatusBadGateway, "api_error", result.Err.Error())
			return
		}
		resp := collectedToResponse(result, req.Model)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// collectedToResponse folds a backend.Collected result into the Anthropic
// Response shape, the non-streaming counterpart to what
// internal/streamconv does incrementally for the streaming path.
func collectedToResponse(c backend.Collected, model string) *anthropic.Response {
	var blocks []anthropic.ContentBlock
	if c.Reasoning != "" {
		blocks = append(blocks, anthropic.ContentBlock{Type: "thinking", Thinking: c.Reasoning})
	}
	if c.Text != "" {
		blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: c.Text})
	}
	for _, t := range c.ToolCalls {
		input := t.Input
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, anthropic.ContentBlock{Type: "tool_use", ID: t.ID, Name: t.Name, Input: input})
	}

	stopReason := c.Finish
	if stopReason == "" {
		stopReason = "end_turn"
	}

	return &anthropic.Response{
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: stopReason,
		Usage:      anthropic.Usage{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens},
	}
}

func mustJSON(req *anthropic.Request) []byte {
	b, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	return b
}
