// Package config handles loading and validating gateway configuration.
//
// Layering follows spec §6 exactly: a recognized environment variable
// (prefix CLAUDEPROXY_), else a config file value, else a built-in
// default. This is the teacher's own koanf-based Load (file.Provider +
// yaml.Parser, then env.Provider, then struct defaults) generalized from
// the teacher's Server/Providers shape to the proxy's backend/cluster
// surface — same library stack, same ${VAR} secret-expansion pass.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Backend names one of the four upstreams spec §1/§6 supports.
type Backend string

const (
	BackendClaude     Backend = "claude"
	BackendLocal      Backend = "local"
	BackendOpenRouter Backend = "openrouter"
	BackendCluster    Backend = "mlx-cluster"
)

// Config is the top-level configuration for the claudeproxy gateway.
type Config struct {
	Server ServerConfig `koanf:"server"`

	Backend       Backend `koanf:"backend"`
	BackendURL    string  `koanf:"backend_url"`
	BackendAPIKey string  `koanf:"backend_api_key"`
	BackendModel  string  `koanf:"backend_model"`

	// AuthToken, when non-empty, is the bearer token clients must present
	// on x-api-key/Authorization for the pass-through auth check of spec
	// §4.5; empty means the proxy does not require client authentication.
	AuthToken string `koanf:"auth_token"`

	TruncateSystemPrompt  bool   `koanf:"truncate_system_prompt"`
	SystemPromptMaxTokens int    `koanf:"system_prompt_max_tokens"`
	SystemPromptStrategy  string `koanf:"system_prompt_strategy"`

	InjectToolInstructions       bool    `koanf:"inject_tool_instructions"`
	ToolInstructionStyle         string  `koanf:"tool_instruction_style"`
	InjectionThreshold           float64 `koanf:"injection_threshold"`
	MaxInjectionsPerConversation int     `koanf:"max_injections_per_conversation"`

	CollapseSystemNewlines bool `koanf:"collapse_system_newlines"`

	Cluster ClusterConfig `koanf:"cluster"`

	DebugLevel int    `koanf:"debug_level"`
	StateDir   string `koanf:"state_dir"`
}

// ServerConfig holds HTTP server and resource-limit settings (spec §4.5,
// §5).
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// MaxConcurrentRequests bounds in-flight requests; excess get 429
	// (spec §5 "default 100").
	MaxConcurrentRequests int `koanf:"max_concurrent_requests"`

	// MaxBodyBytes rejects request bodies above this size with 400/413
	// (spec §4.5.1, "reject ... oversized (>100 MB)").
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// RequestTimeout is the total per-request deadline (spec §4.5.7,
	// default 10 minutes).
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// FirstByteTimeout bounds time-to-first-byte from the backend,
	// distinct from RequestTimeout (spec §4.5.7, default 2 minutes).
	FirstByteTimeout time.Duration `koanf:"first_byte_timeout"`
}

// ClusterConfig configures the mlx-cluster backend's discovery, health,
// routing, and cache subsystems (spec §4.7/§4.8/§6).
type ClusterConfig struct {
	Discovery DiscoveryConfig `koanf:"discovery"`
	Health    HealthConfig    `koanf:"health"`
	Routing   RoutingConfig   `koanf:"routing"`
	Cache     CacheConfig     `koanf:"cache"`
}

// DiscoveryConfig configures the Node Discovery source (spec §4.8).
type DiscoveryConfig struct {
	// Source selects the candidate feed: "static", "dns", or
	// "orchestrator".
	Source string `koanf:"source"`

	StaticNodes []StaticNode `koanf:"static_nodes"`

	DNSName     string `koanf:"dns_name"`
	DNSResolver string `koanf:"dns_resolver"`
	DNSPort     int    `koanf:"dns_port"`

	OrchestratorURL string `koanf:"orchestrator_url"`

	RefreshIntervalMs    int `koanf:"refresh_interval_ms"`
	ValidationTimeoutMs int `koanf:"validation_timeout_ms"`
}

// StaticNode is one statically configured cluster member.
type StaticNode struct {
	ID  string `koanf:"id"`
	URL string `koanf:"url"`
}

// HealthConfig configures the Cluster Router's health checker (spec §4.7).
type HealthConfig struct {
	CheckIntervalMs         int     `koanf:"check_interval_ms"`
	TimeoutMs               int     `koanf:"timeout_ms"`
	HealthyThreshold        int     `koanf:"healthy_threshold"`
	UnhealthyThreshold      int     `koanf:"unhealthy_threshold"`
	DegradedLatencyBudgetMs float64 `koanf:"degraded_latency_budget_ms"`
}

// RoutingConfig selects the Cluster Router's strategy and retry policy.
type RoutingConfig struct {
	Strategy     string `koanf:"strategy"`
	MaxRetries   int    `koanf:"max_retries"`
	RetryDelayMs int    `koanf:"retry_delay_ms"`
}

// CacheConfig configures the cache_aware strategy's hash input (the Open
// Question of spec §9, resolved in DESIGN.md).
type CacheConfig struct {
	KeyMode string `koanf:"key_mode"`
}

// Load reads configuration from a YAML file, layers CLAUDEPROXY_-prefixed
// environment variable overrides on top, applies defaults for anything
// still unset, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider("CLAUDEPROXY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "CLAUDEPROXY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.BackendAPIKey = expandEnv(cfg.BackendAPIKey)
	cfg.AuthToken = expandEnv(cfg.AuthToken)

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnv resolves a ${VAR_NAME} placeholder against the process
// environment, the same secret-expansion the teacher's Load performs for
// provider API keys.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// applyDefaults fills in the built-in defaults spec §6 falls back to when
// neither an env var nor the config file sets a value.
func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendLocal
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8317
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 0 // streaming responses must not be capped by a fixed write deadline
	}
	if cfg.Server.MaxConcurrentRequests == 0 {
		cfg.Server.MaxConcurrentRequests = 100
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 100 * 1024 * 1024
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Server.FirstByteTimeout == 0 {
		cfg.Server.FirstByteTimeout = 2 * time.Minute
	}
	if cfg.SystemPromptStrategy == "" {
		cfg.SystemPromptStrategy = "prefix"
	}
	if cfg.ToolInstructionStyle == "" {
		cfg.ToolInstructionStyle = "explicit"
	}

	if cfg.Cluster.Discovery.Source == "" {
		cfg.Cluster.Discovery.Source = "static"
	}
	if cfg.Cluster.Discovery.RefreshIntervalMs == 0 {
		cfg.Cluster.Discovery.RefreshIntervalMs = 30_000
	}
	if cfg.Cluster.Discovery.ValidationTimeoutMs == 0 {
		cfg.Cluster.Discovery.ValidationTimeoutMs = 2_000
	}
	if cfg.Cluster.Discovery.DNSPort == 0 {
		cfg.Cluster.Discovery.DNSPort = 53
	}
	if cfg.Cluster.Health.CheckIntervalMs == 0 {
		cfg.Cluster.Health.CheckIntervalMs = 10_000
	}
	if cfg.Cluster.Health.TimeoutMs == 0 {
		cfg.Cluster.Health.TimeoutMs = 2_000
	}
	if cfg.Cluster.Health.HealthyThreshold == 0 {
		cfg.Cluster.Health.HealthyThreshold = 3
	}
	if cfg.Cluster.Health.UnhealthyThreshold == 0 {
		cfg.Cluster.Health.UnhealthyThreshold = 3
	}
	if cfg.Cluster.Routing.Strategy == "" {
		cfg.Cluster.Routing.Strategy = "round_robin"
	}
	if cfg.Cluster.Routing.MaxRetries == 0 {
		cfg.Cluster.Routing.MaxRetries = 2
	}
	if cfg.Cluster.Routing.RetryDelayMs == 0 {
		cfg.Cluster.Routing.RetryDelayMs = 200
	}
	if cfg.Cluster.Cache.KeyMode == "" {
		cfg.Cluster.Cache.KeyMode = "combined"
	}
}
