// Package config loads sync core configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Requirement names a connectivity resource a category depends on.
const (
	RequireInternet = "internet"
	RequireDB       = "db"
	RequireChannel  = "channel"
)

// Default category names.
const (
	CategoryRemoteDB      = "remote_db"
	CategoryNotifyChannel = "notify_channel"
)

// Config is the root configuration.
type Config struct {
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
	Remote   RemoteConfig  `yaml:"remote"`
	Channel  ChannelConfig `yaml:"channel"`
	Probe    ProbeConfig   `yaml:"probe"`
	Drain    DrainConfig   `yaml:"drain"`
	Retry    RetryConfig   `yaml:"retry"`
	Queue    QueueConfig   `yaml:"queue"`
	Metrics  MetricsConfig `yaml:"metrics"`

	// Categories maps an operation category to the connectivity
	// requirements that must all hold before it is actionable.
	Categories map[string][]string `yaml:"categories"`
}

// RemoteConfig describes the remote PostgreSQL counterpart.
type RemoteConfig struct {
	DSN            string `yaml:"dsn"`
	ProbeTimeoutMS int    `yaml:"probe_timeout_ms"`
}

// ProbeTimeout returns the remote probe timeout.
func (r RemoteConfig) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutMS) * time.Millisecond
}

// ChannelConfig describes the notification gateway.
type ChannelConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// Timeout returns the gateway request timeout.
func (c ChannelConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ProbeConfig describes the internet reachability check.
type ProbeConfig struct {
	InternetEndpoint string `yaml:"internet_endpoint"`
	TimeoutMS        int    `yaml:"timeout_ms"`
}

// Timeout returns the internet probe timeout.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// DrainConfig controls the drain engine loop.
type DrainConfig struct {
	IntervalSeconds       int `yaml:"interval_seconds"`
	BatchSize             int `yaml:"batch_size"`
	AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
	StaleAfterSeconds     int `yaml:"stale_after_seconds"`

	// Quotas caps how many operations of a category run per pass, to keep
	// one category from starving the rest of a batch. Zero means no cap.
	Quotas map[string]int `yaml:"quotas"`
}

// Interval returns the drain pass interval.
func (d DrainConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// AttemptTimeout returns the per-attempt execution timeout.
func (d DrainConfig) AttemptTimeout() time.Duration {
	return time.Duration(d.AttemptTimeoutSeconds) * time.Second
}

// StaleAfter returns the age after which an in_progress row is considered
// abandoned and requeued.
func (d DrainConfig) StaleAfter() time.Duration {
	return time.Duration(d.StaleAfterSeconds) * time.Second
}

// RetryConfig controls failure escalation.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	BaseBackoffSeconds int `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds  int `yaml:"max_backoff_seconds"`
}

// BaseBackoff returns the first retry delay.
func (r RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffSeconds) * time.Second
}

// QueueConfig controls enqueue-side behavior.
type QueueConfig struct {
	DedupEnabled    bool `yaml:"dedup_enabled"`
	ChannelTTLHours int  `yaml:"channel_ttl_hours"`
}

// ChannelTTL returns the time-to-live for notification operations.
func (q QueueConfig) ChannelTTL() time.Duration {
	return time.Duration(q.ChannelTTLHours) * time.Hour
}

// MetricsConfig controls the observability HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		Remote: RemoteConfig{
			ProbeTimeoutMS: 2000,
		},
		Channel: ChannelConfig{
			TimeoutMS: 10000,
		},
		Probe: ProbeConfig{
			InternetEndpoint: "8.8.8.8:53",
			TimeoutMS:        2000,
		},
		Drain: DrainConfig{
			IntervalSeconds:       30,
			BatchSize:             50,
			AttemptTimeoutSeconds: 30,
			StaleAfterSeconds:     300,
			Quotas: map[string]int{
				CategoryRemoteDB:      30,
				CategoryNotifyChannel: 20,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:        5,
			BaseBackoffSeconds: 15,
			MaxBackoffSeconds:  900,
		},
		Queue: QueueConfig{
			DedupEnabled:    true,
			ChannelTTLHours: 72,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8765",
		},
		Categories: map[string][]string{
			CategoryRemoteDB:      {RequireDB},
			CategoryNotifyChannel: {RequireInternet, RequireChannel},
		},
	}
}

// Load reads the config file at path, merged over defaults and finished with
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the loaded values.
func (c *Config) applyEnv() {
	if v := os.Getenv("GYMSYNC_REMOTE_DSN"); v != "" {
		c.Remote.DSN = v
	}
	if v := os.Getenv("GYMSYNC_CHANNEL_URL"); v != "" {
		c.Channel.BaseURL = v
	}
	if v := os.Getenv("GYMSYNC_CHANNEL_TOKEN"); v != "" {
		c.Channel.Token = v
	}
	if v := os.Getenv("GYMSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GYMSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if n, ok := envInt("GYMSYNC_MAX_ATTEMPTS"); ok {
		c.Retry.MaxAttempts = n
	}
	if n, ok := envInt("GYMSYNC_BASE_BACKOFF_SECONDS"); ok {
		c.Retry.BaseBackoffSeconds = n
	}
	if n, ok := envInt("GYMSYNC_MAX_BACKOFF_SECONDS"); ok {
		c.Retry.MaxBackoffSeconds = n
	}
	if n, ok := envInt("GYMSYNC_DRAIN_INTERVAL_SECONDS"); ok {
		c.Drain.IntervalSeconds = n
	}
	if v := os.Getenv("GYMSYNC_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Drain.IntervalSeconds < 1 {
		return fmt.Errorf("drain.interval_seconds must be >= 1, got %d", c.Drain.IntervalSeconds)
	}
	if c.Drain.BatchSize < 1 {
		return fmt.Errorf("drain.batch_size must be >= 1, got %d", c.Drain.BatchSize)
	}
	for cat, reqs := range c.Categories {
		for _, r := range reqs {
			switch r {
			case RequireInternet, RequireDB, RequireChannel:
			default:
				return fmt.Errorf("category %s: unknown requirement %q", cat, r)
			}
		}
	}
	return nil
}
