// Package config provides configuration loading, validation, and defaults for
// the orchestration engine, fallback machinery, and circuit breakers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent name constants for the built-in pipeline agents.
const (
	AgentTriage       = "TriageSubAgent"
	AgentData         = "DataSubAgent"
	AgentOptimization = "OptimizationSubAgent"
	AgentActionPlan   = "ActionPlanSubAgent"
	AgentReporting    = "ReportingSubAgent"
)

// EngineConfig controls the execution engine's outer retry behavior.
type EngineConfig struct {
	MaxRetries int `yaml:"max_retries"` // Engine-level immediate retries per agent
}

// FallbackConfig controls the fallback handler's retry loop and timeouts.
// Duration fields accept Go duration strings in YAML ("500ms", "30s") as
// well as integer nanoseconds.
type FallbackConfig struct {
	MaxRetries        int           `yaml:"max_retries"`         // Retry-loop invocations before fallback
	BaseDelay         time.Duration `yaml:"base_delay"`          // Initial backoff delay
	MaxDelay          time.Duration `yaml:"max_delay"`           // Backoff cap
	ExponentialBase   float64       `yaml:"exponential_base"`    // Multiplier for exponential backoff
	Timeout           time.Duration `yaml:"timeout"`             // Per-attempt operation timeout
	UseCircuitBreaker bool          `yaml:"use_circuit_breaker"` // Gate attempts through per-target breakers
}

// UnmarshalYAML decodes durations from strings or integer nanoseconds,
// touching only the fields present in the document.
func (f *FallbackConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries        *int           `yaml:"max_retries"`
		BaseDelay         *durationValue `yaml:"base_delay"`
		MaxDelay          *durationValue `yaml:"max_delay"`
		ExponentialBase   *float64       `yaml:"exponential_base"`
		Timeout           *durationValue `yaml:"timeout"`
		UseCircuitBreaker *bool          `yaml:"use_circuit_breaker"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxRetries != nil {
		f.MaxRetries = *raw.MaxRetries
	}
	if raw.BaseDelay != nil {
		f.BaseDelay = time.Duration(*raw.BaseDelay)
	}
	if raw.MaxDelay != nil {
		f.MaxDelay = time.Duration(*raw.MaxDelay)
	}
	if raw.ExponentialBase != nil {
		f.ExponentialBase = *raw.ExponentialBase
	}
	if raw.Timeout != nil {
		f.Timeout = time.Duration(*raw.Timeout)
	}
	if raw.UseCircuitBreaker != nil {
		f.UseCircuitBreaker = *raw.UseCircuitBreaker
	}
	return nil
}

// CircuitConfig controls per-target circuit breaker behavior.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // Failures before opening
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`  // Cooldown before half-open trial
	Name             string        `yaml:"name"`              // Target name, set at creation
}

// UnmarshalYAML decodes recovery_timeout from a string or integer
// nanoseconds, touching only the fields present in the document.
func (c *CircuitConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		FailureThreshold *int           `yaml:"failure_threshold"`
		RecoveryTimeout  *durationValue `yaml:"recovery_timeout"`
		Name             *string        `yaml:"name"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.FailureThreshold != nil {
		c.FailureThreshold = *raw.FailureThreshold
	}
	if raw.RecoveryTimeout != nil {
		c.RecoveryTimeout = time.Duration(*raw.RecoveryTimeout)
	}
	if raw.Name != nil {
		c.Name = *raw.Name
	}
	return nil
}

// durationValue accepts either an integer nanosecond count or a Go duration
// string ("500ms", "1m30s").
type durationValue time.Duration

func (d *durationValue) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = durationValue(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = durationValue(parsed)
	return nil
}

// ServerConfig controls the optichat daemon's listen addresses.
type ServerConfig struct {
	Addr          string `yaml:"addr"`           // HTTP/WebSocket listen address
	MetricsAddr   string `yaml:"metrics_addr"`   // Prometheus scrape address
	PrometheusURL string `yaml:"prometheus_url"` // Prometheus server for health queries, empty disables
}

// PersistenceConfig controls the sqlite state store.
type PersistenceConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config is the root configuration for the optichat orchestrator.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Server      ServerConfig      `yaml:"server"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// DefaultEngineConfig provides reasonable defaults for engine retries.
var DefaultEngineConfig = EngineConfig{ //nolint:gochecknoglobals
	MaxRetries: 3,
}

// DefaultFallbackConfig provides reasonable defaults for fallback behavior.
var DefaultFallbackConfig = FallbackConfig{ //nolint:gochecknoglobals
	MaxRetries:        2,
	BaseDelay:         500 * time.Millisecond,
	MaxDelay:          10 * time.Second,
	ExponentialBase:   2.0,
	Timeout:           30 * time.Second,
	UseCircuitBreaker: true,
}

// DefaultCircuitConfig provides reasonable defaults for circuit breakers.
var DefaultCircuitConfig = CircuitConfig{ //nolint:gochecknoglobals
	FailureThreshold: 3,
	RecoveryTimeout:  60 * time.Second,
}

// Default returns a fully-populated configuration with default values.
func Default() *Config {
	return &Config{
		Engine:   DefaultEngineConfig,
		Fallback: DefaultFallbackConfig,
		Circuit:  DefaultCircuitConfig,
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Persistence: PersistenceConfig{
			DBPath: "optichat.db",
		},
	}
}

// Load reads a YAML config file, applies environment overrides, fills
// defaults for zero-valued fields, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	fillDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies a small set of operational env overrides.
func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("OPTICHAT_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := os.Getenv("OPTICHAT_METRICS_ADDR"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	if url := os.Getenv("OPTICHAT_PROMETHEUS_URL"); url != "" {
		cfg.Server.PrometheusURL = url
	}
	if dbPath := os.Getenv("OPTICHAT_DB_PATH"); dbPath != "" {
		cfg.Persistence.DBPath = dbPath
	}
	if retries := os.Getenv("OPTICHAT_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			cfg.Engine.MaxRetries = n
		}
	}
}

// fillDefaults replaces zero-valued fields with defaults so partial YAML
// files stay usable.
func fillDefaults(cfg *Config) {
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = DefaultEngineConfig.MaxRetries
	}
	if cfg.Fallback.MaxRetries == 0 {
		cfg.Fallback.MaxRetries = DefaultFallbackConfig.MaxRetries
	}
	if cfg.Fallback.BaseDelay == 0 {
		cfg.Fallback.BaseDelay = DefaultFallbackConfig.BaseDelay
	}
	if cfg.Fallback.MaxDelay == 0 {
		cfg.Fallback.MaxDelay = DefaultFallbackConfig.MaxDelay
	}
	if cfg.Fallback.ExponentialBase == 0 {
		cfg.Fallback.ExponentialBase = DefaultFallbackConfig.ExponentialBase
	}
	if cfg.Fallback.Timeout == 0 {
		cfg.Fallback.Timeout = DefaultFallbackConfig.Timeout
	}
	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = DefaultCircuitConfig.FailureThreshold
	}
	if cfg.Circuit.RecoveryTimeout == 0 {
		cfg.Circuit.RecoveryTimeout = DefaultCircuitConfig.RecoveryTimeout
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Persistence.DBPath == "" {
		cfg.Persistence.DBPath = "optichat.db"
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", c.Engine.MaxRetries)
	}
	if c.Fallback.MaxRetries < 1 {
		return fmt.Errorf("fallback.max_retries must be >= 1, got %d", c.Fallback.MaxRetries)
	}
	if c.Fallback.ExponentialBase < 1.0 {
		return fmt.Errorf("fallback.exponential_base must be >= 1.0, got %g", c.Fallback.ExponentialBase)
	}
	if c.Fallback.MaxDelay < c.Fallback.BaseDelay {
		return fmt.Errorf("fallback.max_delay (%v) must be >= base_delay (%v)",
			c.Fallback.MaxDelay, c.Fallback.BaseDelay)
	}
	if c.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("circuit.failure_threshold must be >= 1, got %d", c.Circuit.FailureThreshold)
	}
	if c.Circuit.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit.recovery_timeout must be > 0, got %v", c.Circuit.RecoveryTimeout)
	}
	return nil
}
