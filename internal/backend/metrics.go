package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// droppedChunksFromBackendTotal counts SSE lines from a backend that
// could not be parsed into the wire shape the client expects — a
// malformed server response, not a client bug, so it's worth alarming on
// separately from internal/streamconv's own dropped-chunk counter.
var droppedChunksFromBackendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "claudeproxy_backend_dropped_chunks_total",
	Help: "Backend response lines dropped during stream parsing, by reason.",
}, []string{"reason"})

// droppedToolsTotal counts tools whose input schema was rejected by the
// Schema Adapter (for example exceeding the nesting depth limit) and so
// were omitted from the outgoing request rather than failing it outright.
var droppedToolsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "claudeproxy_backend_dropped_tools_total",
	Help: "Tools dropped from an outgoing backend request, by reason.",
}, []string{"reason"})
