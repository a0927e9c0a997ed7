package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// routerCommandsDroppedTotal counts async router updates (discovery/health)
// dropped because the coordinator's inbox was full — a signal the router
// itself is the bottleneck, distinct from any individual node's failures.
var routerCommandsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "claudeproxy_cluster_router_commands_dropped_total",
	Help: "Async node-table updates dropped because the router's command queue was full.",
})

// NodesByStatus is a prometheus gauge vec callers can set from a Snapshot
// to publish the aggregate node counts per status label.
var NodesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "claudeproxy_cluster_nodes",
	Help: "Number of cluster nodes currently in each status.",
}, []string{"status"})
