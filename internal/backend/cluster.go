package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
	"github.com/howard-nolan/claudeproxy/internal/cluster"
)

// NodeClientFactory builds a Client targeting one cluster node's base URL.
// mlx-cluster nodes speak the OpenAI-compatible dialect, so in practice
// this wraps NewOpenAIClient, but the cluster backend doesn't hard-code
// that choice.
type NodeClientFactory func(nodeURL string) Client

// ClusterClientConfig configures the mlx-cluster backend client.
type ClusterClientConfig struct {
	Name         string
	Router       *cluster.Router
	NewNodeClient NodeClientFactory
	CacheKeyMode cluster.CacheKeyMode
	MaxRetries   int
	RetryDelay   time.Duration
}

func (c ClusterClientConfig) withDefaults() ClusterClientConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.CacheKeyMode == "" {
		c.CacheKeyMode = cluster.CacheKeyCombined
	}
	return c
}

// ClusterClient implements backend.Client against the mlx-cluster
// backend: it asks the Cluster Router for a node, opens a per-node client
// against that node's URL, and on open-error retries by asking the router
// for a node again. The router is not told which node failed: under
// round_robin a retry moves on to the next healthy node, while the other
// strategies can hand back the node that just failed.
//
// Grounded on the teacher's Provider abstraction generalized one level
// further: where OpenAIClient/AnthropicClient each own one fixed
// destination, ClusterClient owns none — it resolves a destination fresh
// per attempt via the router and delegates the actual call to a
// NodeClientFactory-built client, matching spec §4.6's "uniform interface"
// requirement without duplicating either client's SSE-parsing logic.
type ClusterClient struct {
	cfg ClusterClientConfig
}

func NewClusterClient(cfg ClusterClientConfig) *ClusterClient {
	return &ClusterClient{cfg: cfg.withDefaults()}
}

func (c *ClusterClient) Name() string { return c.cfg.Name }

type openResult struct {
	ch     <-chan Chunk
	cancel CancelFunc
	nodeID string
}

func (c *ClusterClient) Open(ctx context.Context, req *anthropic.Request) (<-chan Chunk, CancelFunc, error) {
	cacheKey := cluster.HashCacheKey(c.cfg.CacheKeyMode, req.System.Text(), toolNames(req))

	operation := func() (openResult, error) {
		node, err := c.cfg.Router.Select(ctx, cacheKey)
		if err != nil {
			return openResult{}, backoff.Permanent(fmt.Errorf("selecting cluster node: %w", err))
		}

		nodeClient := c.cfg.NewNodeClient(node.URL)
		ch, cancel, err := nodeClient.Open(ctx, req)
		if err != nil {
			c.cfg.Router.RecordResult(node.ID, false, 0, "")
			return openResult{}, err
		}
		return openResult{ch: ch, cancel: cancel, nodeID: node.ID}, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("opening cluster backend stream: %w", err)
	}

	start := time.Now()
	out := make(chan Chunk)
	go func() {
		defer close(out)
		success := true
		for chunk := range result.ch {
			if chunk.Type == ChunkError {
				success = false
			}
			out <- chunk
		}
		c.cfg.Router.RecordResult(result.nodeID, success, float64(time.Since(start).Milliseconds()), cacheKey)
	}()

	return out, result.cancel, nil
}

func toolNames(req *anthropic.Request) []string {
	names := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		names[i] = t.Name
	}
	return names
}
