package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheIndexSize bounds the cache_aware LRU index (prefix hash -> node
// id). Sized well above any realistic number of distinct system-prompt
// prefixes a single proxy process would see concurrently; eviction only
// means a prefix falls back to least_loaded once, not an error.
const cacheIndexSize = 4096

// commandQueueSize bounds the coordinator's inbox. Sized comfortably above
// the default concurrent-request limit (spec §5's default 100) so a
// Select call — which must never silently drop — practically never blocks
// on a full queue; async updates (discovery/health) use a non-blocking
// send and count a drop rather than stall their caller.
const commandQueueSize = 256

// Config configures a new Router.
type Config struct {
	Strategy     Strategy
	CacheKeyMode CacheKeyMode
}

// Router is the Cluster Router coordinator: one goroutine owns the node
// map and the round-robin cursor; every other goroutine talks to it
// through Select, UpsertNode, RemoveNode, RecordProbe, and RecordResult,
// each of which enqueues a closure the coordinator runs serially.
type Router struct {
	cmds chan func()

	nodes    map[string]Node
	order    []string
	cursor   int
	strategy Strategy
	cacheKey CacheKeyMode
	rng      *rand.Rand
	updated  time.Time

	// cacheIndex maps a cache_aware prefix hash to the node id that most
	// recently served it, the LRU §9 Design Notes calls for so
	// cache_aware doesn't need an O(n) scan of every node's last hint.
	cacheIndex *lru.Cache[string, string]
}

// NewRouter starts the coordinator goroutine and returns a ready Router.
// rngSeed fixes the weighted-random latency_based draws for deterministic
// tests; production callers pass a value derived from the current time.
func NewRouter(cfg Config, rngSeed int64) *Router {
	cacheIndex, _ := lru.New[string, string](cacheIndexSize) // only errors on size <= 0
	r := &Router{
		cmds:       make(chan func(), commandQueueSize),
		nodes:      make(map[string]Node),
		strategy:   cfg.Strategy,
		cacheKey:   cfg.CacheKeyMode,
		rng:        rand.New(rand.NewSource(rngSeed)),
		cacheIndex: cacheIndex,
	}
	go r.run()
	return r
}

func (r *Router) run() {
	for cmd := range r.cmds {
		cmd()
	}
}

// Close stops the coordinator goroutine. No further calls on this Router
// may be made once Close returns.
func (r *Router) Close() { close(r.cmds) }

// dispatch enqueues a fire-and-forget update. It never blocks the caller:
// discovery and health-check loops must not stall on a busy router (spec
// §4.8), so a full queue drops the update and counts it instead.
func (r *Router) dispatch(cmd func()) {
	select {
	case r.cmds <- cmd:
	default:
		routerCommandsDroppedTotal.Inc()
	}
}

// UpsertNode registers a newly discovered node, or updates the URL of one
// already known by id. New nodes start StatusUnknown until the health
// checker's first probe classifies them.
func (r *Router) UpsertNode(id, url string) {
	r.dispatch(func() {
		n, exists := r.nodes[id]
		if !exists {
			n = Node{ID: id, Status: StatusUnknown}
			r.order = append(r.order, id)
		}
		n.URL = url
		r.nodes[id] = n
		r.updated = time.Now()
	})
}

// RemoveNode drops a node that Discovery no longer sees.
func (r *Router) RemoveNode(id string) {
	r.dispatch(func() {
		if _, ok := r.nodes[id]; !ok {
			return
		}
		delete(r.nodes, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.updated = time.Now()
	})
}

// RecordProbe applies a health-check outcome, implementing the promote/
// demote thresholds of spec §4.7.
func (r *Router) RecordProbe(id string, success bool, latencyMs float64, healthyThreshold, unhealthyThreshold int, degradedLatencyBudgetMs float64) {
	r.dispatch(func() {
		n, ok := r.nodes[id]
		if !ok {
			return
		}
		n.Health.LastCheck = time.Now()
		n.Health.LastLatencyMs = latencyMs
		if success {
			n.Health.ConsecutiveFailures = 0
			n.Health.ConsecutiveSuccesses++
			if n.Status == StatusUnhealthy || n.Status == StatusUnknown {
				if n.Health.ConsecutiveSuccesses >= healthyThreshold {
					n.Status = StatusHealthy
				}
			} else if degradedLatencyBudgetMs > 0 && latencyMs > degradedLatencyBudgetMs {
				n.Status = StatusDegraded
			} else {
				n.Status = StatusHealthy
			}
		} else {
			n.Health.ConsecutiveSuccesses = 0
			n.Health.ConsecutiveFailures++
			if n.Health.ConsecutiveFailures >= unhealthyThreshold {
				n.Status = StatusUnhealthy
			}
		}
		r.nodes[id] = n
		r.updated = time.Now()
	})
}

// RecordResult folds one completed request's outcome back into a node's
// serving metrics: in-flight count, p50 latency (exponential estimate,
// cheaper than a rolling histogram for this purpose), and cache hint.
func (r *Router) RecordResult(id string, success bool, latencyMs float64, cachePrefixHash string) {
	r.dispatch(func() {
		n, ok := r.nodes[id]
		if !ok {
			return
		}
		if n.Metrics.InFlight > 0 {
			n.Metrics.InFlight--
		}
		n.Metrics.Requests++
		if !success {
			n.Metrics.Failures++
		}
		if n.Metrics.P50LatencyMs == 0 {
			n.Metrics.P50LatencyMs = latencyMs
		} else {
			n.Metrics.P50LatencyMs = n.Metrics.P50LatencyMs*0.9 + latencyMs*0.1
		}
		if cachePrefixHash != "" {
			n.CacheHint = CacheHint{PrefixHash: cachePrefixHash, LastUsedAt: time.Now()}
			r.cacheIndex.Add(cachePrefixHash, id)
		}
		r.nodes[id] = n
		r.updated = time.Now()
	})
}

type selectResult struct {
	node Node
	err  error
}

// Select picks one node for a request under the router's configured
// strategy. cacheKey is only consulted under cache_aware; the other
// strategies ignore it, and ClusterClient passes its hash under every
// strategy. The chosen node's in-flight count is
// incremented before Select returns so least_loaded sees an up-to-date
// picture for the very next concurrent call.
func (r *Router) Select(ctx context.Context, cacheKey string) (Node, error) {
	resp := make(chan selectResult, 1)
	cmd := func() {
		snap := r.nodesSlice()
		var idx int
		switch r.strategy {
		case StrategyRoundRobin:
			idx, r.cursor = selectRoundRobin(snap, r.cursor)
		case StrategyLeastLoaded:
			idx, r.cursor = selectLeastLoaded(snap, r.cursor)
		case StrategyCacheAware:
			preferredID, _ := r.cacheIndex.Get(cacheKey)
			idx, r.cursor = selectCacheAware(snap, r.cursor, preferredID)
		case StrategyLatencyBased:
			idx = selectLatencyBased(snap, r.rng)
		default:
			idx, r.cursor = selectRoundRobin(snap, r.cursor)
		}
		if idx < 0 {
			resp <- selectResult{err: ErrNoHealthyNodes}
			return
		}
		chosen := snap[idx]
		chosen.Metrics.InFlight++
		r.nodes[chosen.ID] = chosen
		resp <- selectResult{node: chosen}
	}

	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return Node{}, fmt.Errorf("selecting node: %w", ctx.Err())
	}

	select {
	case res := <-resp:
		return res.node, res.err
	case <-ctx.Done():
		return Node{}, fmt.Errorf("selecting node: %w", ctx.Err())
	}
}

// Snapshot returns a copy-on-read view of the node table for the
// GET /v1/cluster/status endpoint.
func (r *Router) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	cmd := func() {
		resp <- Snapshot{
			Nodes:            r.nodesSlice(),
			AggregateStatus:  computeAggregate(r.nodesSlice()),
			Strategy:         r.strategy,
			RoundRobinCursor: r.cursor,
			LastUpdated:      r.updated,
		}
	}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// nodesSlice materializes the node map in stable discovery order. Must
// only be called from the coordinator goroutine.
func (r *Router) nodesSlice() []Node {
	out := make([]Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}
