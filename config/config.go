// Package config provides configuration loading and management for hitlflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
)

// Delegation backends.
const (
	DelegationHTTP = "http"
	DelegationChat = "chat"
)

// Config represents the complete hitlflow configuration
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Delegation DelegationConfig `yaml:"delegation"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Policy     PolicyConfig     `yaml:"policy"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// StoreConfig selects and configures the session store
type StoreConfig struct {
	// Backend is one of memory, nats, sqlite. Memory does not outlive the
	// process.
	Backend string       `yaml:"backend"`
	NATS    NATSConfig   `yaml:"nats"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	// MaxRetries bounds compare-and-swap retries per update
	MaxRetries int `yaml:"max_retries"`
}

// NATSConfig configures the JetStream KV store
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir holds embedded JetStream data (empty = temp dir)
	StoreDir string `yaml:"store_dir"`
	Bucket   string `yaml:"bucket"`
	History  int    `yaml:"history"`
}

// SQLiteConfig configures the SQLite store
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// EndpointConfig locates one delegate role
type EndpointConfig struct {
	URL          string `yaml:"url"`
	Model        string `yaml:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// RetryConfig bounds delegate retries
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// DelegationConfig configures the analyzer and generator delegates
type DelegationConfig struct {
	// Backend is http (JSON endpoint per role) or chat (OpenAI-compatible)
	Backend   string         `yaml:"backend"`
	Analyzer  EndpointConfig `yaml:"analyzer"`
	Generator EndpointConfig `yaml:"generator"`
	APIKey    string         `yaml:"api_key,omitempty"`
	// Timeout bounds a single attempt
	Timeout time.Duration `yaml:"timeout"`
	// Deadline bounds a whole delegation including retries (0 = none)
	Deadline time.Duration `yaml:"deadline"`
	Retry    RetryConfig   `yaml:"retry"`
	Circuit  CircuitConfig `yaml:"circuit"`
}

// CircuitConfig configures the per-role circuit breaker
type CircuitConfig struct {
	// FailureThreshold is the consecutive failures that open the circuit (0 = disabled)
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// TrackerConfig configures user story enrichment
type TrackerConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// PolicyConfig holds the review thresholds. It is reloaded at runtime.
type PolicyConfig struct {
	// ReviewThreshold is the score below which a review needs improvement
	ReviewThreshold int `yaml:"review_threshold"`
	// LowScoreThreshold is the score below which more specific feedback is recommended
	LowScoreThreshold int `yaml:"low_score_threshold"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			NATS: NATSConfig{
				Embedded: true,
				Bucket:   "HITLFLOW_SESSIONS",
				History:  5,
			},
			SQLite: SQLiteConfig{
				Path: DefaultSQLitePath(),
			},
			MaxRetries: 16,
		},
		Delegation: DelegationConfig{
			Backend: DelegationHTTP,
			Analyzer: EndpointConfig{
				URL: "http://localhost:8081/analyze",
			},
			Generator: EndpointConfig{
				URL: "http://localhost:8082/generate",
			},
			Timeout: 2 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffBase:       time.Second,
				BackoffMultiplier: 2.0,
				MaxBackoff:        15 * time.Second,
			},
			Circuit: CircuitConfig{
				FailureThreshold: 3,
				RecoveryTimeout:  30 * time.Second,
			},
		},
		Tracker: TrackerConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			ReviewThreshold:   7,
			LowScoreThreshold: 6,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// DefaultSQLitePath is where sessions persist unless configured otherwise,
// so separate CLI invocations share one store.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hitlflow.db"
	}
	return filepath.Join(home, ".local", "share", "hitlflow", "sessions.db")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendNATS, BackendSQLite:
	default:
		return fmt.Errorf("store.backend must be one of memory, nats, sqlite (got %q)", c.Store.Backend)
	}
	if c.Store.Backend == BackendNATS && c.Store.NATS.URL == "" && !c.Store.NATS.Embedded {
		return fmt.Errorf("store.nats.url is required when embedded NATS is disabled")
	}
	if c.Store.Backend == BackendSQLite && c.Store.SQLite.Path == "" {
		return fmt.Errorf("store.sqlite.path is required")
	}
	if c.Store.NATS.History < 0 || c.Store.NATS.History > 64 {
		return fmt.Errorf("store.nats.history must be between 0 and 64")
	}
	if c.Store.MaxRetries < 1 {
		return fmt.Errorf("store.max_retries must be at least 1")
	}

	switch c.Delegation.Backend {
	case DelegationHTTP, DelegationChat:
	default:
		return fmt.Errorf("delegation.backend must be http or chat (got %q)", c.Delegation.Backend)
	}
	if c.Delegation.Analyzer.URL == "" {
		return fmt.Errorf("delegation.analyzer.url is required")
	}
	if c.Delegation.Generator.URL == "" {
		return fmt.Errorf("delegation.generator.url is required")
	}
	if c.Delegation.Timeout <= 0 {
		return fmt.Errorf("delegation.timeout must be positive")
	}
	if c.Delegation.Retry.MaxAttempts < 1 {
		return fmt.Errorf("delegation.retry.max_attempts must be at least 1")
	}
	if c.Delegation.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("delegation.retry.backoff_multiplier must be at least 1")
	}

	if c.Delegation.Circuit.FailureThreshold < 0 {
		return fmt.Errorf("delegation.circuit.failure_threshold must not be negative")
	}

	if c.Tracker.Enabled && c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker.base_url is required when the tracker is enabled")
	}

	return c.Policy.Validate()
}

// Validate checks the review thresholds
func (p PolicyConfig) Validate() error {
	if p.ReviewThreshold < 0 || p.ReviewThreshold > 11 {
		return fmt.Errorf("policy.review_threshold must be between 0 and 11")
	}
	if p.LowScoreThreshold < 0 || p.LowScoreThreshold > p.ReviewThreshold {
		return fmt.Errorf("policy.low_score_threshold must be between 0 and review_threshold")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. ${VAR} and
// ${VAR:-default} references are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := config.Merge(ExpandEnv(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge overlays a YAML document onto c. Keys present in data replace the
// current value even when they are zero or false; absent and null keys
// keep it. Setting store.nats.url without store.nats.embedded turns the
// embedded server off.
func (c *Config) Merge(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	pruneNulls(root)
	if err := root.Decode(c); err != nil {
		return err
	}
	if hasKey(root, "store", "nats", "url") && !hasKey(root, "store", "nats", "embedded") && c.Store.NATS.URL != "" {
		c.Store.NATS.Embedded = false
	}
	return nil
}

// pruneNulls drops mapping entries whose value is null so a key with
// everything under it commented out is treated as absent.
func pruneNulls(n *yaml.Node) {
	if n.Kind != yaml.MappingNode {
		return
	}
	kept := n.Content[:0]
	for i := 0; i+1 < len(n.Content); i += 2 {
		v := n.Content[i+1]
		if v.Kind == yaml.ScalarNode && v.ShortTag() == "!!null" {
			continue
		}
		pruneNulls(v)
		kept = append(kept, n.Content[i], v)
	}
	n.Content = kept
}

// hasKey reports whether the mapping path exists under n.
func hasKey(n *yaml.Node, path ...string) bool {
	for _, key := range path {
		if n.Kind != yaml.MappingNode {
			return false
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return false
		}
		n = next
	}
	return true
}
