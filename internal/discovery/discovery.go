// Package discovery implements Node Discovery (spec §4.8): a periodic
// sweep that refreshes the mlx-cluster backend's node set from a
// configured source and invokes lifecycle callbacks on changes.
//
// The teacher has no discovery concern at all (its provider registry is
// built once at startup from static config, cmd/llmrouter/main.go). The
// goroutine-per-concern shape here — the ticker loop never itself calls a
// callback, a dedicated goroutine does — mirrors the teacher's own
// discipline of keeping streaming-producer goroutines from doing anything
// that could stall them, generalized from "don't block on a channel send"
// to "don't block on an arbitrary callback".
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Candidate is one node a Source proposes before validation.
type Candidate struct {
	ID  string
	URL string
}

// Source fetches the current candidate list from wherever discovery reads
// it — a static list, DNS, or an orchestrator API (spec §4.8.1).
type Source interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Config configures a Discoverer's cadence and validation.
type Config struct {
	RefreshInterval     time.Duration
	ValidationTimeout   time.Duration
	HTTPClient          *http.Client
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = 2 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// Callbacks are invoked from a goroutine dedicated to callback delivery,
// never from the ticker goroutine driving the sweep (spec §4.8: "Callbacks
// must not block the discovery loop").
type Callbacks struct {
	OnNodeDiscovered func(id, url string)
	OnNodeLost       func(id, url string)
	OnDiscoveryError func(err error)
}

// Discoverer runs the refresh_interval_ms ticker, validates candidates,
// dedups, diffs against the previous set, and delivers callbacks.
type Discoverer struct {
	source Source
	cfg    Config
	cb     Callbacks

	events chan func()
	known  map[string]Candidate // key: id+"|"+url
}

// New constructs a Discoverer. Run must be called to start the sweep loop.
func New(source Source, cfg Config, cb Callbacks) *Discoverer {
	return &Discoverer{
		source: source,
		cfg:    cfg.withDefaults(),
		cb:     cb,
		events: make(chan func(), 64),
		known:  make(map[string]Candidate),
	}
}

// Run blocks, sweeping on every tick and delivering callbacks through a
// dedicated goroutine, until ctx is canceled.
func (d *Discoverer) Run(ctx context.Context) {
	go d.deliverCallbacks(ctx)

	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	d.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// deliverCallbacks drains queued callback invocations on its own
// goroutine so a slow OnNodeDiscovered/OnNodeLost handler never delays the
// next tick.
func (d *Discoverer) deliverCallbacks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.events:
			fn()
		}
	}
}

func (d *Discoverer) emit(fn func()) bool {
	select {
	case d.events <- fn:
		return true
	default:
		// Callback queue is full; drop rather than block the sweep. A
		// dropped discovery/loss event self-corrects on the next sweep
		// since sweep leaves that node out of step in the reconciled set.
		return false
	}
}

// sweep implements spec §4.8 steps 1-5: fetch candidates, validate each,
// dedup by (id,url), diff against the previous set, and emit callbacks.
// Per-candidate validation errors are collected and reported once rather
// than aborting the whole sweep.
func (d *Discoverer) sweep(ctx context.Context) {
	candidates, err := d.source.Candidates(ctx)
	if err != nil {
		d.emit(func() {
			if d.cb.OnDiscoveryError != nil {
				d.cb.OnDiscoveryError(fmt.Errorf("fetching candidates: %w", err))
			}
		})
		return
	}

	current := make(map[string]Candidate)
	var validationErrs []error
	for _, c := range candidates {
		key := c.ID + "|" + c.URL
		if _, dup := current[key]; dup {
			continue
		}
		if err := d.validate(ctx, c.URL); err != nil {
			validationErrs = append(validationErrs, fmt.Errorf("validating %s (%s): %w", c.ID, c.URL, err))
			continue
		}
		current[key] = c
	}

	if len(validationErrs) > 0 {
		d.emit(func() {
			if d.cb.OnDiscoveryError != nil {
				d.cb.OnDiscoveryError(fmt.Errorf("%d candidate(s) failed validation: %w", len(validationErrs), validationErrs[0]))
			}
		})
	}

	for key, c := range current {
		if _, known := d.known[key]; !known {
			c := c
			if !d.emit(func() {
				if d.cb.OnNodeDiscovered != nil {
					d.cb.OnNodeDiscovered(c.ID, c.URL)
				}
			}) {
				delete(current, key)
			}
		}
	}
	for key, c := range d.known {
		if _, still := current[key]; !still {
			c := c
			if !d.emit(func() {
				if d.cb.OnNodeLost != nil {
					d.cb.OnNodeLost(c.ID, c.URL)
				}
			}) {
				current[key] = c
			}
		}
	}

	d.known = current
}

// validate issues the GET /v1/models probe spec §4.8.2 requires and
// rejects anything that isn't a 200 with the expected models-list shape —
// the same check internal/cluster.HealthChecker applies to an already-
// registered node, applied here to a freshly-discovered one before it
// ever reaches the router.
func (d *Discoverer) validate(ctx context.Context, url string) error {
	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ValidationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, trimSlash(url)+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return fmt.Errorf("non-JSON response: %w", err)
	}
	if body.Object != "list" {
		return fmt.Errorf("unexpected shape: object=%q", body.Object)
	}
	return nil
}

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// sortedKeys is used only by tests to get deterministic iteration order
// over the internal known-set map.
func sortedKeys(m map[string]Candidate) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
