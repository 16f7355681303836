package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("expected default store backend sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Store.SQLite.Path == "" || cfg.Store.SQLite.Path != DefaultSQLitePath() {
		t.Errorf("unexpected default sqlite path %q", cfg.Store.SQLite.Path)
	}
	if cfg.Delegation.Backend != DelegationHTTP {
		t.Errorf("expected default delegation backend http, got %s", cfg.Delegation.Backend)
	}
	if cfg.Policy.ReviewThreshold != 7 {
		t.Errorf("expected default review threshold 7, got %d", cfg.Policy.ReviewThreshold)
	}
	if cfg.Policy.LowScoreThreshold != 6 {
		t.Errorf("expected default low score threshold 6, got %d", cfg.Policy.LowScoreThreshold)
	}
	if !cfg.Store.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown store backend",
			modify:  func(c *Config) { c.Store.Backend = "redis" },
			wantErr: true,
		},
		{
			name: "nats without url or embedded server",
			modify: func(c *Config) {
				c.Store.Backend = BackendNATS
				c.Store.NATS.Embedded = false
			},
			wantErr: true,
		},
		{
			name: "sqlite without path",
			modify: func(c *Config) {
				c.Store.Backend = BackendSQLite
				c.Store.SQLite.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "zero max retries",
			modify:  func(c *Config) { c.Store.MaxRetries = 0 },
			wantErr: true,
		},
		{
			name:    "unknown delegation backend",
			modify:  func(c *Config) { c.Delegation.Backend = "grpc" },
			wantErr: true,
		},
		{
			name:    "missing analyzer url",
			modify:  func(c *Config) { c.Delegation.Analyzer.URL = "" },
			wantErr: true,
		},
		{
			name:    "non-positive timeout",
			modify:  func(c *Config) { c.Delegation.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "backoff multiplier below one",
			modify:  func(c *Config) { c.Delegation.Retry.BackoffMultiplier = 0.5 },
			wantErr: true,
		},
		{
			name:    "negative circuit threshold",
			modify:  func(c *Config) { c.Delegation.Circuit.FailureThreshold = -1 },
			wantErr: true,
		},
		{
			name:    "tracker enabled without base url",
			modify:  func(c *Config) { c.Tracker.Enabled = true },
			wantErr: true,
		},
		{
			name:    "review threshold above range",
			modify:  func(c *Config) { c.Policy.ReviewThreshold = 12 },
			wantErr: true,
		},
		{
			name:    "low threshold above review threshold",
			modify:  func(c *Config) { c.Policy.LowScoreThreshold = 8 },
			wantErr: true,
		},
		{
			name: "chat backend with models",
			modify: func(c *Config) {
				c.Delegation.Backend = DelegationChat
				c.Delegation.Analyzer.Model = "gpt-4o-mini"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("HITLFLOW_TEST_TOKEN", "secret-token")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
store:
  backend: sqlite
  sqlite:
    path: /var/lib/hitlflow/sessions.db
delegation:
  backend: chat
  analyzer:
    url: http://llm:8000/v1
    model: analyzer-model
  timeout: 30s
  retry:
    max_attempts: 5
tracker:
  enabled: true
  base_url: http://tracker:9000/api
  token: ${HITLFLOW_TEST_TOKEN}
  timeout: ${HITLFLOW_TEST_UNSET:-3s}
policy:
  review_threshold: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("expected backend sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Store.SQLite.Path != "/var/lib/hitlflow/sessions.db" {
		t.Errorf("unexpected sqlite path %s", cfg.Store.SQLite.Path)
	}
	if cfg.Delegation.Analyzer.Model != "analyzer-model" {
		t.Errorf("expected analyzer model, got %s", cfg.Delegation.Analyzer.Model)
	}
	if cfg.Delegation.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Delegation.Timeout)
	}
	if cfg.Delegation.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Delegation.Retry.MaxAttempts)
	}
	// Unset keys keep their defaults
	if cfg.Delegation.Retry.BackoffBase != time.Second {
		t.Errorf("expected default backoff base, got %v", cfg.Delegation.Retry.BackoffBase)
	}
	if cfg.Delegation.Generator.URL != "http://localhost:8082/generate" {
		t.Errorf("expected default generator url, got %s", cfg.Delegation.Generator.URL)
	}
	if cfg.Tracker.Token != "secret-token" {
		t.Errorf("expected token from environment, got %q", cfg.Tracker.Token)
	}
	if cfg.Tracker.Timeout != 3*time.Second {
		t.Errorf("expected fallback timeout 3s, got %v", cfg.Tracker.Timeout)
	}
	if cfg.Policy.ReviewThreshold != 8 || cfg.Policy.LowScoreThreshold != 6 {
		t.Errorf("unexpected policy %+v", cfg.Policy)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HITLFLOW_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"${HITLFLOW_A}", "alpha"},
		{"x-${HITLFLOW_A}-y", "x-alpha-y"},
		{"${HITLFLOW_MISSING}", ""},
		{"${HITLFLOW_MISSING:-fallback}", "fallback"},
		{"${HITLFLOW_A:-fallback}", "alpha"},
		{"$HITLFLOW_A", "$HITLFLOW_A"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := string(ExpandEnv([]byte(tt.in))); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	err := base.Merge([]byte(`
store:
  backend: nats
  nats:
    url: nats://remote:4222
delegation:
  analyzer:
    model: override-model
policy:
  review_threshold: 9
`))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if base.Store.Backend != BackendNATS {
		t.Errorf("expected backend nats, got %s", base.Store.Backend)
	}
	if base.Store.NATS.Embedded {
		t.Error("setting a NATS url should disable the embedded server")
	}
	if base.Delegation.Analyzer.Model != "override-model" {
		t.Errorf("expected model override-model, got %s", base.Delegation.Analyzer.Model)
	}
	// URL should remain from base since override didn't set it
	if base.Delegation.Analyzer.URL != "http://localhost:8081/analyze" {
		t.Errorf("expected analyzer url to remain default, got %s", base.Delegation.Analyzer.URL)
	}
	if base.Policy.ReviewThreshold != 9 || base.Policy.LowScoreThreshold != 6 {
		t.Errorf("unexpected policy %+v", base.Policy)
	}

	if err := base.Merge(nil); err != nil || base.Store.Backend != BackendNATS {
		t.Errorf("merging an empty document should be a no-op (err = %v)", err)
	}
	if err := base.Merge([]byte("store: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigMergeZeroValues(t *testing.T) {
	tests := []struct {
		name  string
		base  func(*Config)
		layer string
		check func(*Config) string
	}{
		{
			name:  "zero failure threshold disables circuit",
			layer: "delegation:\n  circuit:\n    failure_threshold: 0\n",
			check: func(c *Config) string {
				if c.Delegation.Circuit.FailureThreshold != 0 {
					return "failure_threshold not cleared"
				}
				if c.Delegation.Circuit.RecoveryTimeout != 30*time.Second {
					return "recovery_timeout lost"
				}
				return ""
			},
		},
		{
			name:  "false overrides enabled tracker",
			base:  func(c *Config) { c.Tracker.Enabled = true; c.Tracker.BaseURL = "http://tracker" },
			layer: "tracker:\n  enabled: false\n",
			check: func(c *Config) string {
				if c.Tracker.Enabled {
					return "tracker still enabled"
				}
				if c.Tracker.BaseURL != "http://tracker" {
					return "base_url lost"
				}
				return ""
			},
		},
		{
			name:  "embedded false is kept",
			layer: "store:\n  nats:\n    embedded: false\n    url: nats://remote:4222\n",
			check: func(c *Config) string {
				if c.Store.NATS.Embedded {
					return "embedded still on"
				}
				return ""
			},
		},
		{
			name:  "explicit embedded wins over url",
			layer: "store:\n  nats:\n    embedded: true\n    url: nats://remote:4222\n",
			check: func(c *Config) string {
				if !c.Store.NATS.Embedded {
					return "embedded turned off"
				}
				return ""
			},
		},
		{
			name:  "zero low score threshold",
			layer: "policy:\n  low_score_threshold: 0\n",
			check: func(c *Config) string {
				if c.Policy.LowScoreThreshold != 0 || c.Policy.ReviewThreshold != 7 {
					return "unexpected policy"
				}
				return ""
			},
		},
		{
			name:  "null section keeps defaults",
			layer: "policy:\n  # review_threshold: 9\ntracker:\n",
			check: func(c *Config) string {
				if c.Policy.ReviewThreshold != 7 || c.Policy.LowScoreThreshold != 6 {
					return "policy cleared"
				}
				if c.Tracker.Timeout != 10*time.Second {
					return "tracker cleared"
				}
				return ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.base != nil {
				tt.base(cfg)
			}
			if err := cfg.Merge([]byte(tt.layer)); err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
			if msg := tt.check(cfg); msg != "" {
				t.Errorf("%s: %+v", msg, cfg)
			}
		})
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:9090"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.HTTP.Addr != "127.0.0.1:9090" {
		t.Errorf("expected addr 127.0.0.1:9090, got %s", loaded.HTTP.Addr)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoaderLayers(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	workDir := filepath.Join(project, "nested", "deeper")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	writeFile(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
store:
  backend: sqlite
delegation:
  api_key: user-key
policy:
  review_threshold: 9
  low_score_threshold: 5
`)
	writeFile(t, filepath.Join(project, ProjectConfigFile), `
delegation:
  timeout: 45s
policy:
  review_threshold: 8
`)

	l := NewLoader(nil)
	l.home = home
	l.workDir = workDir

	cfg, source, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if source != filepath.Join(project, ProjectConfigFile) {
		t.Errorf("expected project config as source, got %s", source)
	}
	// User layer survives where the project is silent
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("expected user backend sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Delegation.APIKey != "user-key" {
		t.Errorf("expected user api key, got %q", cfg.Delegation.APIKey)
	}
	if cfg.Delegation.Timeout != 45*time.Second {
		t.Errorf("expected project timeout 45s, got %v", cfg.Delegation.Timeout)
	}
	if cfg.Policy.ReviewThreshold != 8 || cfg.Policy.LowScoreThreshold != 5 {
		t.Errorf("unexpected policy %+v", cfg.Policy)
	}

	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	writeFile(t, explicit, "http:\n  addr: \":9999\"\n")
	cfg, source, err = l.Load(explicit)
	if err != nil {
		t.Fatalf("Load(explicit) error = %v", err)
	}
	if source != explicit {
		t.Errorf("expected explicit source, got %s", source)
	}
	if cfg.HTTP.Addr != ":9999" || cfg.Store.Backend != BackendSQLite {
		t.Errorf("explicit layer not merged on top: %+v", cfg)
	}
}

func TestLoaderLayerZeroValues(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	writeFile(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
tracker:
  enabled: true
  base_url: http://tracker:9000/api
delegation:
  circuit:
    failure_threshold: 5
`)
	writeFile(t, filepath.Join(project, ProjectConfigFile), `
tracker:
  enabled: false
delegation:
  circuit:
    failure_threshold: 0
`)

	l := NewLoader(nil)
	l.home = home
	l.workDir = project

	cfg, _, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tracker.Enabled {
		t.Error("project tracker.enabled: false should override the user layer")
	}
	if cfg.Tracker.BaseURL != "http://tracker:9000/api" {
		t.Errorf("expected user base_url, got %q", cfg.Tracker.BaseURL)
	}
	if cfg.Delegation.Circuit.FailureThreshold != 0 {
		t.Errorf("expected circuit disabled, got threshold %d", cfg.Delegation.Circuit.FailureThreshold)
	}
}

func TestLoaderErrors(t *testing.T) {
	l := NewLoader(nil)
	l.home = t.TempDir()
	l.workDir = t.TempDir()

	if _, _, err := l.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit file")
	}

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	writeFile(t, invalid, "store:\n  backend: redis\n")
	if _, _, err := l.Load(invalid); err == nil {
		t.Error("expected validation error")
	}

	cfg, source, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if source != "" {
		t.Errorf("expected no source, got %s", source)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("expected defaults, got backend %s", cfg.Store.Backend)
	}
}

func TestEnsureUserConfig(t *testing.T) {
	l := NewLoader(nil)
	l.home = t.TempDir()

	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	path := filepath.Join(l.home, UserConfigDir, UserConfigFile)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load created config: %v", err)
	}
	if cfg.Policy.ReviewThreshold != 7 {
		t.Errorf("expected default policy, got %+v", cfg.Policy)
	}

	// Existing file is left alone
	writeFile(t, path, "policy:\n  review_threshold: 9\n")
	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	cfg, _ = LoadFromFile(path)
	if cfg.Policy.ReviewThreshold != 9 {
		t.Errorf("existing config was overwritten: %+v", cfg.Policy)
	}
}

func TestWatcherReloadsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigFile)
	writeFile(t, path, "policy:\n  review_threshold: 7\n")

	changes := make(chan PolicyConfig, 4)
	w, err := NewWatcher(path, DefaultConfig().Policy, nil, func(p PolicyConfig) { changes <- p }, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Invalid policy is ignored
	writeFile(t, path, "policy:\n  review_threshold: 20\n")
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, "policy:\n  review_threshold: 9\n  low_score_threshold: 4\n")

	select {
	case p := <-changes:
		if p.ReviewThreshold != 9 || p.LowScoreThreshold != 4 {
			t.Errorf("unexpected policy %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for policy reload")
	}
	if got := w.Policy(); got.ReviewThreshold != 9 {
		t.Errorf("Policy() = %+v", got)
	}

	// Removing the keys restores what lies beneath the file
	writeFile(t, path, "http:\n  addr: \":9090\"\n")

	select {
	case p := <-changes:
		if p != DefaultConfig().Policy {
			t.Errorf("expected default policy after removal, got %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for policy revert")
	}
}

func TestWatcherReloadUsesSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigFile)
	writeFile(t, path, "policy:\n  review_threshold: 9\n")

	// The layer beneath the file sets review_threshold 8
	source := func() (PolicyConfig, error) {
		cfg := DefaultConfig()
		if err := cfg.Merge([]byte("policy:\n  review_threshold: 8\n")); err != nil {
			return PolicyConfig{}, err
		}
		if err := mergeFile(cfg, path); err != nil {
			return PolicyConfig{}, err
		}
		return cfg.Policy, nil
	}

	initial := PolicyConfig{ReviewThreshold: 9, LowScoreThreshold: 6}
	var got []PolicyConfig
	w, err := NewWatcher(path, initial, source, func(p PolicyConfig) { got = append(got, p) }, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	w.reload()
	if len(got) != 0 {
		t.Errorf("unchanged policy should not be reported, got %+v", got)
	}

	writeFile(t, path, "store:\n  backend: memory\n")
	w.reload()
	if len(got) != 1 || got[0].ReviewThreshold != 8 {
		t.Errorf("expected fallback to the lower layer, got %+v", got)
	}

	writeFile(t, path, "store: [unclosed")
	w.reload()
	if len(got) != 1 || w.Policy().ReviewThreshold != 8 {
		t.Errorf("parse error should keep the current policy, got %+v", w.Policy())
	}
}
