package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/miekg/dns"
)

// StaticSource returns a fixed, config-supplied candidate list — spec
// §4.8's "static list: config".
type StaticSource struct {
	Nodes []Candidate
}

func (s StaticSource) Candidates(ctx context.Context) ([]Candidate, error) {
	return s.Nodes, nil
}

// DNSSource resolves a recursive A/AAAA query against a configured
// resolver and synthesizes one candidate per resolved address, each
// sharing Port. Grounded on miekg/dns rather than the stdlib resolver:
// net.LookupHost takes no per-call context deadline independent of the
// process-wide default resolver, and Discovery needs the same cancellable,
// bounded-timeout shape StaticSource and OrchestratorSource already get
// for free from http.NewRequestWithContext — miekg/dns's exchange API
// gives the DNS source the same cancellation discipline instead of being
// the one source that can't honor ctx.
type DNSSource struct {
	Name       string // hostname to resolve
	Resolver   string // "host:port" of the recursive resolver to query
	Port       int    // port every synthesized candidate URL uses
	UseTCP     bool
}

func (s DNSSource) Candidates(ctx context.Context) ([]Candidate, error) {
	client := &dns.Client{}
	if s.UseTCP {
		client.Net = "tcp"
	}

	var out []Candidate
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(s.Name), qtype)

		resp, _, err := client.ExchangeContext(ctx, msg, s.Resolver)
		if err != nil {
			return nil, fmt.Errorf("querying %s for %s: %w", s.Resolver, s.Name, err)
		}
		for _, rr := range resp.Answer {
			var addr string
			switch rec := rr.(type) {
			case *dns.A:
				addr = rec.A.String()
			case *dns.AAAA:
				addr = rec.AAAA.String()
			default:
				continue
			}
			url := "http://" + addr + ":" + strconv.Itoa(s.Port)
			out = append(out, Candidate{ID: addr, URL: url})
		}
	}
	return out, nil
}

// OrchestratorSource queries an orchestrator API for the current node
// list — spec §4.8's "orchestrator: HTTP query".
type OrchestratorSource struct {
	URL        string
	HTTPClient *http.Client
}

type orchestratorResponse struct {
	Nodes []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"nodes"`
}

func (s OrchestratorSource) Candidates(ctx context.Context) ([]Candidate, error) {
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying orchestrator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orchestrator returned status %d", resp.StatusCode)
	}

	var body orchestratorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding orchestrator response: %w", err)
	}

	out := make([]Candidate, 0, len(body.Nodes))
	for _, n := range body.Nodes {
		out = append(out, Candidate{ID: n.ID, URL: n.URL})
	}
	return out, nil
}
