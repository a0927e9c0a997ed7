// Command claudeproxy is the gateway's entry point: it wires configuration
// into a backend client (and, for mlx-cluster, a Cluster Router, health
// checker, and node discoverer), builds the HTTP server, and runs it with
// a graceful shutdown sequence.
//
// Kept thin deliberately — it is pure wiring, not business logic, the same
// role the teacher's cmd/llmrouter/main.go plays for its provider
// registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/howard-nolan/claudeproxy/internal/backend"
	"github.com/howard-nolan/claudeproxy/internal/cluster"
	"github.com/howard-nolan/claudeproxy/internal/config"
	"github.com/howard-nolan/claudeproxy/internal/discovery"
	"github.com/howard-nolan/claudeproxy/internal/logging"
	"github.com/howard-nolan/claudeproxy/internal/server"
	"github.com/howard-nolan/claudeproxy/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("CLAUDEPROXY_CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "claudeproxy.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(logging.Level(cfg.DebugLevel))
	trace := tracing.New(cfg.StateDir)

	client, router, stopBackground, err := buildBackend(cfg, log)
	if err != nil {
		return fmt.Errorf("building backend: %w", err)
	}

	srv := server.New(cfg, log, client, router, trace)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("claudeproxy listening on %s (backend=%s)", httpServer.Addr, cfg.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	// Shutdown order: stop accepting new connections and let in-flight
	// requests drain against a bounded deadline, then cancel the
	// health-check and discovery loops, then close the cluster coordinator.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("graceful shutdown error: %v", err)
	}
	stopBackground()
	if router != nil {
		router.Close()
	}
	return nil
}

// buildBackend constructs the backend.Client named by cfg.Backend, along
// with the mlx-cluster backend's supporting Cluster Router, health
// checker, and node discoverer when applicable. stop cancels the
// background health/discovery goroutines; it is a no-op for the
// single-node backends.
func buildBackend(cfg *config.Config, log *logging.Logger) (client backend.Client, router *cluster.Router, stop func(), err error) {
	stop = func() {}

	switch cfg.Backend {
	case config.BackendClaude:
		client = backend.NewAnthropicClient(backend.AnthropicClientConfig{
			Name:    string(config.BackendClaude),
			BaseURL: cfg.BackendURL,
			APIKey:  cfg.BackendAPIKey,
			Model:   cfg.BackendModel,
		})
		return client, nil, stop, nil

	case config.BackendLocal, config.BackendOpenRouter:
		client = backend.NewOpenAIClient(backend.OpenAIClientConfig{
			Name:                   string(cfg.Backend),
			BaseURL:                cfg.BackendURL,
			APIKey:                 cfg.BackendAPIKey,
			Model:                  cfg.BackendModel,
			CollapseSystemNewlines: cfg.CollapseSystemNewlines,
		})
		return client, nil, stop, nil

	case config.BackendCluster:
		return buildClusterBackend(cfg, log)

	default:
		return nil, nil, stop, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildClusterBackend(cfg *config.Config, log *logging.Logger) (backend.Client, *cluster.Router, func(), error) {
	router := cluster.NewRouter(cluster.Config{
		Strategy:     cluster.Strategy(cfg.Cluster.Routing.Strategy),
		CacheKeyMode: cluster.CacheKeyMode(cfg.Cluster.Cache.KeyMode),
	}, time.Now().UnixNano())

	for _, n := range cfg.Cluster.Discovery.StaticNodes {
		router.UpsertNode(n.ID, n.URL)
	}

	healthChecker := cluster.NewHealthChecker(router, cluster.HealthCheckerConfig{
		CheckInterval:           time.Duration(cfg.Cluster.Health.CheckIntervalMs) * time.Millisecond,
		Timeout:                 time.Duration(cfg.Cluster.Health.TimeoutMs) * time.Millisecond,
		HealthyThreshold:        cfg.Cluster.Health.HealthyThreshold,
		UnhealthyThreshold:      cfg.Cluster.Health.UnhealthyThreshold,
		DegradedLatencyBudgetMs: cfg.Cluster.Health.DegradedLatencyBudgetMs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go healthChecker.Run(ctx)

	if src := buildDiscoverySource(cfg); src != nil {
		discoverer := discovery.New(src, discovery.Config{
			RefreshInterval:   time.Duration(cfg.Cluster.Discovery.RefreshIntervalMs) * time.Millisecond,
			ValidationTimeout: time.Duration(cfg.Cluster.Discovery.ValidationTimeoutMs) * time.Millisecond,
		}, discovery.Callbacks{
			OnNodeDiscovered: router.UpsertNode,
			OnNodeLost:       func(id, _ string) { router.RemoveNode(id) },
			OnDiscoveryError: func(err error) { log.Warnf("discovery error: %v", err) },
		})
		go discoverer.Run(ctx)
	}

	client := backend.NewClusterClient(backend.ClusterClientConfig{
		Name:   string(config.BackendCluster),
		Router: router,
		NewNodeClient: func(nodeURL string) backend.Client {
			return backend.NewOpenAIClient(backend.OpenAIClientConfig{
				Name:                   string(config.BackendCluster),
				BaseURL:                nodeURL,
				CollapseSystemNewlines: cfg.CollapseSystemNewlines,
			})
		},
		CacheKeyMode: cluster.CacheKeyMode(cfg.Cluster.Cache.KeyMode),
		MaxRetries:   cfg.Cluster.Routing.MaxRetries,
		RetryDelay:   time.Duration(cfg.Cluster.Routing.RetryDelayMs) * time.Millisecond,
	})

	return client, router, cancel, nil
}

// buildDiscoverySource picks the discovery.Source matching
// cfg.Cluster.Discovery.Source, returning nil when discovery is
// unconfigured (static_nodes loaded once at startup is enough on its own).
func buildDiscoverySource(cfg *config.Config) discovery.Source {
	switch cfg.Cluster.Discovery.Source {
	case "dns":
		if cfg.Cluster.Discovery.DNSName == "" {
			return nil
		}
		return discovery.DNSSource{
			Name:     cfg.Cluster.Discovery.DNSName,
			Resolver: cfg.Cluster.Discovery.DNSResolver,
			Port:     cfg.Cluster.Discovery.DNSPort,
		}
	case "orchestrator":
		if cfg.Cluster.Discovery.OrchestratorURL == "" {
			return nil
		}
		return discovery.OrchestratorSource{URL: cfg.Cluster.Discovery.OrchestratorURL}
	case "static":
		if len(cfg.Cluster.Discovery.StaticNodes) == 0 {
			return nil
		}
		nodes := make([]discovery.Candidate, len(cfg.Cluster.Discovery.StaticNodes))
		for i, n := range cfg.Cluster.Discovery.StaticNodes {
			nodes[i] = discovery.Candidate{ID: n.ID, URL: n.URL}
		}
		return discovery.StaticSource{Nodes: nodes}
	default:
		return nil
	}
}
