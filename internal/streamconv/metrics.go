package streamconv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// indexOverflowTotal counts content blocks dropped because next_index hit
// the 128 cap of spec §4.3, mirroring the pack's convention (seen in
// haasonsaas-nexus and sidedotdev-sidekick) of a promauto counter per
// recoverable-degradation path rather than a log line alone.
var indexOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "claudeproxy_streamconv_index_overflow_total",
	Help: "Content blocks dropped because the 128-index cap was reached.",
})

// droppedChunksTotal counts chunks the converter discarded instead of
// aborting the stream, labeled by the spec §7 recoverable-error kind.
var droppedChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "claudeproxy_streamconv_dropped_chunks_total",
	Help: "Backend chunks dropped by the stream converter, by reason.",
}, []string{"reason"})
