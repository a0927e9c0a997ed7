package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HealthCheckerConfig configures the probe cadence and promote/demote
// thresholds of spec §4.7.
type HealthCheckerConfig struct {
	CheckInterval          time.Duration
	Timeout                time.Duration
	HealthyThreshold       int
	UnhealthyThreshold     int
	DegradedLatencyBudgetMs float64
	HTTPClient             *http.Client
}

func (c HealthCheckerConfig) withDefaults() HealthCheckerConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.HealthyThreshold <= 0 {
		c.HealthyThreshold = 3
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// HealthChecker periodically probes every node the Router knows about
// with a lightweight GET /v1/models call and feeds the result back through
// Router.RecordProbe.
type HealthChecker struct {
	router *Router
	cfg    HealthCheckerConfig
}

func NewHealthChecker(router *Router, cfg HealthCheckerConfig) *HealthChecker {
	return &HealthChecker{router: router, cfg: cfg.withDefaults()}
}

// Run blocks, probing every node on each tick, until ctx is canceled.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *HealthChecker) sweep(ctx context.Context) {
	snap, err := h.router.Snapshot(ctx)
	if err != nil {
		return
	}
	for _, n := range snap.Nodes {
		go h.probe(ctx, n)
	}
}

func (h *HealthChecker) probe(ctx context.Context, n Node) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	ok := h.validate(probeCtx, n.URL)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	h.router.RecordProbe(n.ID, ok, latencyMs, h.cfg.HealthyThreshold, h.cfg.UnhealthyThreshold, h.cfg.DegradedLatencyBudgetMs)
}

// validate issues the GET /v1/models probe and checks the response has
// the expected models-list shape, same validation discovery.Discoverer
// applies to a freshly-discovered candidate.
func (h *HealthChecker) validate(ctx context.Context, baseURL string) bool {
	url := strings.TrimRight(baseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Object == "list"
}
