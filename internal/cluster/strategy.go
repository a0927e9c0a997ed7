package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
)

// Strategy names one of the four node-selection rules of spec §4.7.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyLeastLoaded  Strategy = "least_loaded"
	StrategyCacheAware   Strategy = "cache_aware"
	StrategyLatencyBased Strategy = "latency_based"
)

// CacheKeyMode resolves the cache_aware Open Question of spec §9: hash
// the system prompt alone, or the system prompt plus tool list. Default
// is Combined; see DESIGN.md for the reasoning.
type CacheKeyMode string

const (
	CacheKeySystemOnly CacheKeyMode = "system_only"
	CacheKeyCombined   CacheKeyMode = "combined"
)

// HashCacheKey computes the stable hash cache_aware routing keys on.
func HashCacheKey(mode CacheKeyMode, system string, toolNames []string) string {
	h := sha256.New()
	h.Write([]byte(system))
	if mode == CacheKeyCombined {
		for _, t := range toolNames {
			h.Write([]byte{0})
			h.Write([]byte(t))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func healthyNodes(nodes []Node) []int {
	var idx []int
	for i, n := range nodes {
		if n.healthy() {
			idx = append(idx, i)
		}
	}
	return idx
}

// selectRoundRobin advances cursor over the healthy subset and returns the
// chosen node's index into nodes along with the new cursor value.
func selectRoundRobin(nodes []Node, cursor int) (int, int) {
	healthy := healthyNodes(nodes)
	if len(healthy) == 0 {
		return -1, cursor
	}
	pick := healthy[cursor%len(healthy)]
	return pick, cursor + 1
}

// selectLeastLoaded returns the healthy node with the fewest in-flight
// requests, tiebreaking by round-robin cursor order.
func selectLeastLoaded(nodes []Node, cursor int) (int, int) {
	healthy := healthyNodes(nodes)
	if len(healthy) == 0 {
		return -1, cursor
	}
	best := -1
	bestLoad := int64(-1)
	for offset := 0; offset < len(healthy); offset++ {
		idx := healthy[(cursor+offset)%len(healthy)]
		load := nodes[idx].Metrics.InFlight
		if bestLoad == -1 || load < bestLoad {
			best = idx
			bestLoad = load
		}
	}
	return best, cursor + 1
}

// selectCacheAware prefers the healthy node the LRU cache index last
// recorded for this prefix hash, falling back to least_loaded when the
// index has no entry for the key or that node is no longer healthy.
// preferredID is resolved by the caller (Router.Select) against the
// coordinator's LRU index before this function runs, keeping this a pure
// function of the node snapshot like every other strategy here.
func selectCacheAware(nodes []Node, cursor int, preferredID string) (int, int) {
	if preferredID != "" {
		for i, n := range nodes {
			if n.ID == preferredID && n.healthy() {
				return i, cursor
			}
		}
	}
	return selectLeastLoaded(nodes, cursor)
}

// selectLatencyBased does a weighted-random pick over healthy nodes,
// weight proportional to 1/p50_latency in ms (a node with no observed
// latency yet gets weight 1, the same as a node at 1ms, which outweighs
// any slower node; the pick is still a random draw).
func selectLatencyBased(nodes []Node, rng *rand.Rand) int {
	healthy := healthyNodes(nodes)
	if len(healthy) == 0 {
		return -1
	}
	weights := make([]float64, len(healthy))
	var total float64
	for i, idx := range healthy {
		p50 := nodes[idx].Metrics.P50LatencyMs
		w := 1.0
		if p50 > 0 {
			w = 1.0 / p50
		}
		weights[i] = w
		total += w
	}
	r := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return healthy[i]
		}
	}
	return healthy[len(healthy)-1]
}
