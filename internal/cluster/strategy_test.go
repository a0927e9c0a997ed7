package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectLatencyBased_PrefersLowerLatencyNode(t *testing.T) {
	nodes := []Node{
		{ID: "slow", Status: StatusHealthy, Metrics: NodeMetrics{P50LatencyMs: 1000}},
		{ID: "fast", Status: StatusHealthy, Metrics: NodeMetrics{P50LatencyMs: 10}},
	}
	rng := rand.New(rand.NewSource(1))

	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		idx := selectLatencyBased(nodes, rng)
		counts[nodes[idx].ID]++
	}
	assert.Greater(t, counts["fast"], counts["slow"])
}

func TestSelectLatencyBased_ExcludesUnhealthy(t *testing.T) {
	nodes := []Node{
		{ID: "a", Status: StatusUnhealthy, Metrics: NodeMetrics{P50LatencyMs: 1}},
		{ID: "b", Status: StatusHealthy, Metrics: NodeMetrics{P50LatencyMs: 100}},
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		idx := selectLatencyBased(nodes, rng)
		assert.Equal(t, "b", nodes[idx].ID)
	}
}

func TestSelectLatencyBased_NoHealthyNodesReturnsNegativeOne(t *testing.T) {
	nodes := []Node{{ID: "a", Status: StatusUnhealthy}}
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, -1, selectLatencyBased(nodes, rng))
}

func TestHashCacheKey_CombinedDiffersFromSystemOnly(t *testing.T) {
	systemOnly := HashCacheKey(CacheKeySystemOnly, "be helpful", []string{"Read", "Write"})
	combined := HashCacheKey(CacheKeyCombined, "be helpful", []string{"Read", "Write"})
	assert.NotEqual(t, systemOnly, combined)

	sameSystemDifferentTools := HashCacheKey(CacheKeyCombined, "be helpful", []string{"Bash"})
	assert.NotEqual(t, combined, sameSystemDifferentTools)
}

func TestHashCacheKey_Deterministic(t *testing.T) {
	a := HashCacheKey(CacheKeyCombined, "system", []string{"Read"})
	b := HashCacheKey(CacheKeyCombined, "system", []string{"Read"})
	assert.Equal(t, a, b)
}
