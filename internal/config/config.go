package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

type Config struct {
	Ranges     RangesConfig     `json:"ranges"`
	Scanner    ScannerConfig    `json:"scanner"`
	Prober     ProberConfig     `json:"prober"`
	Thresholds ThresholdsConfig `json:"thresholds"`
	API        APIConfig        `json:"api"`
	Storage    StorageConfig    `json:"storage"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`

	mu       sync.RWMutex
	filePath string
}

type RangesConfig struct {
	Sources   []string `json:"sources"`
	UserAgent string   `json:"user_agent"`
	TimeoutMs int      `json:"timeout_ms"`
}

type ScannerConfig struct {
	DefaultCount   int `json:"default_count"`
	MaxCount       int `json:"max_count"`
	Concurrency    int `json:"concurrency"`
	MaxConcurrency int `json:"max_concurrency"`
}

type ProberConfig struct {
	TimeoutMs    int    `json:"timeout_ms"`
	Attempts     int    `json:"attempts"`
	PrimaryPort  int    `json:"primary_port"`
	FallbackPort int    `json:"fallback_port"`
	FallbackPath string `json:"fallback_path"`
	SocksProxy   string `json:"socks_proxy"` // optional upstream, host:port
}

type ThresholdsConfig struct {
	DefaultMs int `json:"default_ms"`
	GreenMs   int `json:"green_ms"`
	YellowMs  int `json:"yellow_ms"`
	RedMs     int `json:"red_ms"`
}

type APIConfig struct {
	Addr               string `json:"addr"`
	APIKeyEnv          string `json:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type StorageConfig struct {
	Type                   string `json:"type"` // "file", "sqlite", "redis"
	Path                   string `json:"path"`
	PersistIntervalSeconds int    `json:"persist_interval_seconds"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load reads configuration from JSON file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.filePath = filePath
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	globalConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields
func (c *Config) ApplyDefaults() {
	if len(c.Ranges.Sources) == 0 {
		c.Ranges.Sources = []string{"https://www.cloudflare.com/ips-v4"}
	}
	if c.Ranges.TimeoutMs == 0 {
		c.Ranges.TimeoutMs = 30000
	}
	if c.Scanner.DefaultCount == 0 {
		c.Scanner.DefaultCount = 50
	}
	if c.Scanner.MaxCount == 0 {
		c.Scanner.MaxCount = 200
	}
	if c.Scanner.Concurrency == 0 {
		c.Scanner.Concurrency = 12
	}
	if c.Scanner.MaxConcurrency == 0 {
		c.Scanner.MaxConcurrency = 256
	}
	if c.Prober.TimeoutMs == 0 {
		c.Prober.TimeoutMs = 3000
	}
	if c.Prober.Attempts == 0 {
		c.Prober.Attempts = 2
	}
	if c.Prober.PrimaryPort == 0 {
		c.Prober.PrimaryPort = 443
	}
	if c.Prober.FallbackPort == 0 {
		c.Prober.FallbackPort = 80
	}
	if c.Prober.FallbackPath == "" {
		c.Prober.FallbackPath = "/cdn-cgi/trace"
	}
	if c.Thresholds.DefaultMs == 0 {
		c.Thresholds.DefaultMs = 300
	}
	if c.Thresholds.GreenMs == 0 {
		c.Thresholds.GreenMs = 100
	}
	if c.Thresholds.YellowMs == 0 {
		c.Thresholds.YellowMs = 200
	}
	if c.Thresholds.RedMs == 0 {
		c.Thresholds.RedMs = 300
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8083"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 1200
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/data/scans.json"
	}
	if c.Storage.PersistIntervalSeconds == 0 {
		c.Storage.PersistIntervalSeconds = 300
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "edgescanner"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Reload reloads configuration from file
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newCfg, err := Load(c.filePath)
	if err != nil {
		return err
	}

	c.Ranges = newCfg.Ranges
	c.Scanner = newCfg.Scanner
	c.Prober = newCfg.Prober
	c.Thresholds = newCfg.Thresholds
	c.API = newCfg.API
	c.Storage = newCfg.Storage
	c.Metrics = newCfg.Metrics
	c.Logging = newCfg.Logging
	c.filePath = newCfg.filePath
	return nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if len(c.Ranges.Sources) == 0 {
		return fmt.Errorf("at least one range source is required")
	}
	if c.Scanner.Concurrency < 1 || c.Scanner.Concurrency > c.Scanner.MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d", c.Scanner.MaxConcurrency)
	}
	if c.Scanner.MaxCount < 1 || c.Scanner.MaxCount > 200 {
		return fmt.Errorf("max_count must be between 1 and 200")
	}
	if c.Scanner.DefaultCount < 1 || c.Scanner.DefaultCount > c.Scanner.MaxCount {
		return fmt.Errorf("default_count must be between 1 and max_count")
	}
	if c.Prober.TimeoutMs < 100 || c.Prober.TimeoutMs > 300000 {
		return fmt.Errorf("prober timeout_ms must be between 100 and 300000")
	}
	if c.Prober.Attempts < 1 || c.Prober.Attempts > 10 {
		return fmt.Errorf("prober attempts must be between 1 and 10")
	}
	if c.Thresholds.GreenMs > c.Thresholds.YellowMs || c.Thresholds.YellowMs > c.Thresholds.RedMs {
		return fmt.Errorf("threshold boundaries must be ordered green <= yellow <= red")
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage type must be 'file', 'sqlite', or 'redis'")
	}
	return nil
}

// GetGlobal returns global config instance
func GetGlobal() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
