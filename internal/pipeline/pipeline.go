// Package pipeline carries the Stream Converter's event sequence to the
// client socket with end-to-end backpressure: the producer side blocks
// when the socket can't accept more bytes instead of buffering unboundedly.
//
// Grounded on the teacher's internal/stream.Write — same http.Flusher
// type-assertion, same per-event "marshal then Fprintf" framing — adapted
// from OpenAI-shaped SSE chunks to Anthropic's event/data framing, and
// extended with the keepalive timer and cancellation propagation spec
// §4.4 requires that the teacher's single-shot Write never needed.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/backend"
)

// KeepaliveInterval is how often a comment-line heartbeat is sent while
// waiting for the first real event (spec §4.4). A var, not a const, so
// tests can shrink it instead of waiting out the real interval.
var KeepaliveInterval = 10 * time.Second

// Pipe writes SSE headers, then drains events onto w until the channel
// closes, an event write fails (client disconnect), or ctx is canceled.
// cancel is invoked exactly once, synchronously, the moment either of the
// latter two happens, so the caller's backend socket closes promptly.
//
// Each event is marshaled to a complete frame before any byte reaches w —
// a write is either the whole frame or nothing, so a client never observes
// a torn event. There is no intermediate queue: the call to w.Write blocks
// until the runtime's own socket buffer (bounded well under the 64 KiB cap
// spec §4.4 sets) accepts the bytes, which is what makes a slow client
// pause the Stream Converter goroutine feeding this channel — backpressure
// falls out of the blocking write rather than anything pipeline tracks
// itself.
func Pipe(ctx context.Context, w http.ResponseWriter, events <-chan anthropic.Event, cancel backend.CancelFunc) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Transfer-Encoding", "chunked")

	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	sawFirstEvent := false

	for {
		select {
		case <-ctx.Done():
			cancel()
			return ctx.Err()

		case <-ticker.C:
			if sawFirstEvent {
				continue
			}
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				cancel()
				return fmt.Errorf("writing keepalive: %w", err)
			}
			flusher.Flush()

		case e, ok := <-events:
			if !ok {
				return nil
			}
			sawFirstEvent = true
			body, err := e.Encode()
			if err != nil {
				return fmt.Errorf("encoding event %s: %w", e.Type, err)
			}
			frame := fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, body)
			if _, err := io.WriteString(w, frame); err != nil {
				cancel()
				return fmt.Errorf("writing SSE event: %w", err)
			}
			flusher.Flush()
			if e.Type == anthropic.EventMessageStop {
				return nil
			}
		}
	}
}
