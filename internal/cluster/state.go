package cluster

import "time"

// AggregateStatus summarizes the whole node table for the
// GET /v1/cluster/status endpoint.
type AggregateStatus string

const (
	AggregateHealthy      AggregateStatus = "healthy"
	AggregateDegraded     AggregateStatus = "degraded"
	AggregateUnhealthy    AggregateStatus = "unhealthy"
	AggregateInitializing AggregateStatus = "initializing"
	AggregateShutdown     AggregateStatus = "shutdown"
)

// Snapshot is the copy-on-read view a caller gets back from Router.Snapshot
// and the value Select computes against — a small, immutable value so
// readers never touch the coordinator's live map (spec §5: "Readers
// selecting a node take a short snapshot read (copy-on-read of a small
// struct)").
type Snapshot struct {
	Nodes           []Node
	AggregateStatus AggregateStatus
	Strategy        Strategy
	RoundRobinCursor int
	LastUpdated     time.Time
}

func computeAggregate(nodes []Node) AggregateStatus {
	if len(nodes) == 0 {
		return AggregateInitializing
	}
	healthy, degraded, unhealthy := 0, 0, 0
	for _, n := range nodes {
		switch n.Status {
		case StatusHealthy:
			healthy++
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			unhealthy++
		}
	}
	switch {
	case healthy == len(nodes):
		return AggregateHealthy
	case healthy+degraded == 0:
		return AggregateUnhealthy
	case unhealthy > 0 || degraded > 0:
		return AggregateDegraded
	default:
		return AggregateHealthy
	}
}
