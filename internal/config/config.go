// Package config loads and validates runtime configuration for the core
// monitor and the relay. The shared token secret is intentionally absent
// from the file format: it is provisioned through the environment on each
// process and never written to disk or transmitted.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Core configures the monitor process: collection, matching, and alerting.
type Core struct {
	// Collection
	SourcesFile   string `yaml:"sources_file" json:"sources_file"`
	RelayEndpoint string `yaml:"relay_endpoint" json:"relay_endpoint"`
	SourceTimeout int    `yaml:"source_timeout_sec" json:"source_timeout_sec"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" json:"max_body_bytes"`
	ScanInterval  int    `yaml:"scan_interval_sec" json:"scan_interval_sec"`

	// Matching
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`
	ScanWorkers   int `yaml:"scan_workers" json:"scan_workers"`

	// Alerting
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
	SpoolDir   string `yaml:"spool_dir" json:"spool_dir"`

	// Storage
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`

	// Secrets, environment only.
	RelaySecret string `yaml:"-" json:"-"`
}

// TokenTTL is how long an issued collection token stays valid. Short on
// purpose: a captured token expires before it is worth replaying.
const TokenTTL = 5 * time.Minute

// SetDefaults fills zero values with working defaults.
func (c *Core) SetDefaults() {
	if c.SourcesFile == "" {
		c.SourcesFile = "sources.yaml"
	}
	if c.RelayEndpoint == "" {
		c.RelayEndpoint = "http://127.0.0.1:8417"
	}
	if c.SourceTimeout == 0 {
		c.SourceTimeout = 90
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 8 << 20
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 900
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 4096
	}
	if c.ScanWorkers == 0 {
		c.ScanWorkers = 8
	}
	if c.SpoolDir == "" {
		c.SpoolDir = "spool"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "leakwatch"
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Core) Validate() error {
	if c.RelaySecret == "" {
		return fmt.Errorf("RELAY_SECRET must be set in the environment")
	}
	if len(c.RelaySecret) < 32 {
		return fmt.Errorf("RELAY_SECRET must be at least 32 bytes")
	}
	if !strings.HasPrefix(c.RelayEndpoint, "http://127.0.0.1") &&
		!strings.HasPrefix(c.RelayEndpoint, "http://localhost") &&
		!strings.HasPrefix(c.RelayEndpoint, "http://[::1]") {
		return fmt.Errorf("relay_endpoint must be loopback, got %q", c.RelayEndpoint)
	}
	if c.SourceTimeout < 1 {
		return fmt.Errorf("source_timeout_sec must be at least 1")
	}
	if c.ScanInterval < 1 {
		return fmt.Errorf("scan_interval_sec must be at least 1")
	}
	if c.ScanWorkers < 1 {
		return fmt.Errorf("scan_workers must be at least 1")
	}
	return nil
}

// LoadFromEnv pulls environment-only settings into the config.
func (c *Core) LoadFromEnv() {
	c.RelaySecret = os.Getenv("RELAY_SECRET")
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("LEAKWATCH_WEBHOOK_URL"); v != "" {
		c.WebhookURL = v
	}
}

// Relay configures the isolated relay process.
type Relay struct {
	ListenAddr   string  `yaml:"listen_addr" json:"listen_addr"`
	SocksAddr    string  `yaml:"socks_addr" json:"socks_addr"`
	UserAgent    string  `yaml:"user_agent" json:"user_agent"`
	FetchTimeout int     `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" json:"max_body_bytes"`
	PoolSize     int     `yaml:"pool_size" json:"pool_size"`
	PerHostRate  float64 `yaml:"per_host_rate" json:"per_host_rate"`
	PerHostBurst int     `yaml:"per_host_burst" json:"per_host_burst"`

	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	RelaySecret string `yaml:"-" json:"-"`
}

// SetDefaults fills zero values with working defaults.
func (r *Relay) SetDefaults() {
	if r.ListenAddr == "" {
		r.ListenAddr = "127.0.0.1:8417"
	}
	if r.SocksAddr == "" {
		r.SocksAddr = "127.0.0.1:9050"
	}
	if r.FetchTimeout == 0 {
		r.FetchTimeout = 60
	}
	if r.MaxBodyBytes == 0 {
		r.MaxBodyBytes = 8 << 20
	}
	if r.PoolSize == 0 {
		r.PoolSize = 4
	}
	if r.PerHostRate == 0 {
		r.PerHostRate = 0.2
	}
	if r.PerHostBurst == 0 {
		r.PerHostBurst = 1
	}
	if r.MetricsAddr == "" {
		r.MetricsAddr = "127.0.0.1:9091"
	}
}

// Validate checks the relay configuration. Listen-address loopback
// enforcement happens again at bind time in the service itself.
func (r *Relay) Validate() error {
	if r.RelaySecret == "" {
		return fmt.Errorf("RELAY_SECRET must be set in the environment")
	}
	if len(r.RelaySecret) < 32 {
		return fmt.Errorf("RELAY_SECRET must be at least 32 bytes")
	}
	if r.FetchTimeout < 1 {
		return fmt.Errorf("fetch_timeout_sec must be at least 1")
	}
	if r.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	return nil
}

// LoadFromEnv pulls environment-only settings into the config.
func (r *Relay) LoadFromEnv() {
	r.RelaySecret = os.Getenv("RELAY_SECRET")
	if v := os.Getenv("SOCKS_ADDR"); v != "" {
		r.SocksAddr = v
	}
}

// LoadCore reads a core config file, applies environment and defaults, and
// validates the result.
func LoadCore(path string) (*Core, error) {
	var c Core
	if path != "" {
		if err := decodeFile(path, &c); err != nil {
			return nil, err
		}
	}
	c.LoadFromEnv()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// LoadRelay reads a relay config file, applies environment and defaults,
// and validates the result.
func LoadRelay(path string) (*Relay, error) {
	var r Relay
	if path != "" {
		if err := decodeFile(path, &r); err != nil {
			return nil, err
		}
	}
	r.LoadFromEnv()
	r.SetDefaults()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &r, nil
}

func decodeFile(path string, out interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}
	return nil
}
