package config

import (
	"fmt"
	"time"
)

// Config is the complete bastion configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
	Geo        GeoConfig        `yaml:"geo"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Detection  DetectionConfig  `yaml:"detection"`
	Reputation ReputationConfig `yaml:"reputation"`
	Validation ValidationConfig `yaml:"validation"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Redis      RedisConfig      `yaml:"redis"`
}

// ServerConfig defines the protected listener.
type ServerConfig struct {
	Address string `yaml:"address"`
	// UpstreamURL is the service being protected. Empty means the
	// listener answers 404 for everything that passes the filter,
	// which is only useful for evaluation setups.
	UpstreamURL     string        `yaml:"upstream_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig defines the admin API listener.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	File     string            `yaml:"file"` // empty = stderr
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// GeoConfig defines geographic policy. Blocked countries are checked
// before allowed countries; a non-empty allow list switches the engine
// into allow-list mode.
type GeoConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DatabasePath     string        `yaml:"database_path"` // .mmdb file
	BlockedCountries []string      `yaml:"blocked_countries"`
	AllowedCountries []string      `yaml:"allowed_countries"`
	LookupTimeout    time.Duration `yaml:"lookup_timeout"`
	CacheSize        int           `yaml:"cache_size"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// RateLimitCategoryConfig is the (limit, window, block) tuple for one
// traffic category.
type RateLimitCategoryConfig struct {
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	BlockDuration time.Duration `yaml:"block_duration"`
}

// RateLimitConfig defines per-category limits.
type RateLimitConfig struct {
	Enabled    bool                               `yaml:"enabled"`
	Mode       string                             `yaml:"mode"` // "local" or "redis"
	Categories map[string]RateLimitCategoryConfig `yaml:"categories"`
}

// DetectionConfig defines the attack pattern detector.
type DetectionConfig struct {
	Enabled         bool   `yaml:"enabled"`
	SignatureFile   string `yaml:"signature_file"`    // optional YAML extension signatures
	MaxInspectBytes int    `yaml:"max_inspect_bytes"` // surface truncation cap
}

// ReputationConfig defines suspicion tracking and escalation.
type ReputationConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"` // suspicion events before permanent block
}

// ValidationConfig defines structural request checks.
type ValidationConfig struct {
	Enabled        bool  `yaml:"enabled"`
	MaxRequestSize int64 `yaml:"max_request_size"` // bytes
	// EnforceHeaders promotes header findings from log-only to denial.
	// Off by default: header heuristics are weak signals.
	EnforceHeaders bool `yaml:"enforce_headers"`
}

// AlertingConfig defines SecurityEvent delivery.
type AlertingConfig struct {
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	AuditFile AuditFileConfig `yaml:"audit_file"`
}

// WebhooksConfig defines async webhook delivery of security events.
type WebhooksConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Endpoints []WebhookEndpoint  `yaml:"endpoints"`
	Workers   int                `yaml:"workers"`
	QueueSize int                `yaml:"queue_size"`
	Timeout   time.Duration      `yaml:"timeout"`
	Retry     WebhookRetryConfig `yaml:"retry"`
}

// WebhookEndpoint is a single alert destination.
type WebhookEndpoint struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"` // HMAC-SHA256 signing key, optional
}

// WebhookRetryConfig controls redelivery of failed webhook posts.
type WebhookRetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// AuditFileConfig defines the rotating JSON-lines security event log.
type AuditFileConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Path     string            `yaml:"path"`
	Rotation LogRotationConfig `yaml:"rotation"`
}

// RedisConfig defines the optional distributed backing store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default category tuples. api is also the fallback category.
const (
	DefaultMaxRequestSize = 10 << 20 // 10 MiB
)

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
			Rotation: LogRotationConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
		Geo: GeoConfig{
			Enabled:       true,
			LookupTimeout: 150 * time.Millisecond,
			CacheSize:     4096,
			CacheTTL:      time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Mode:    "local",
			Categories: map[string]RateLimitCategoryConfig{
				"api":    {Limit: 100, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute},
				"login":  {Limit: 5, Window: 15 * time.Minute, BlockDuration: 60 * time.Minute},
				"admin":  {Limit: 20, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute},
				"upload": {Limit: 10, Window: 60 * time.Minute, BlockDuration: 60 * time.Minute},
			},
		},
		Detection: DetectionConfig{
			Enabled:         true,
			MaxInspectBytes: 64 << 10,
		},
		Reputation: ReputationConfig{
			Enabled:   true,
			Threshold: 3,
		},
		Validation: ValidationConfig{
			Enabled:        true,
			MaxRequestSize: DefaultMaxRequestSize,
		},
		Alerting: AlertingConfig{
			Webhooks: WebhooksConfig{
				Workers:   4,
				QueueSize: 1000,
				Timeout:   5 * time.Second,
				Retry: WebhookRetryConfig{
					MaxRetries: 3,
					Backoff:    time.Second,
					MaxBackoff: 30 * time.Second,
				},
			},
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Admin.Enabled && c.Admin.Address == "" {
		return fmt.Errorf("admin.address must not be empty when admin is enabled")
	}
	if c.Validation.MaxRequestSize <= 0 {
		return fmt.Errorf("validation.max_request_size must be positive")
	}
	if c.Reputation.Threshold <= 0 {
		return fmt.Errorf("reputation.threshold must be positive")
	}
	switch c.RateLimit.Mode {
	case "", "local", "redis":
	default:
		return fmt.Errorf("rate_limit.mode must be \"local\" or \"redis\", got %q", c.RateLimit.Mode)
	}
	if c.RateLimit.Mode == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis.address required for rate_limit.mode redis")
	}
	for name, cat := range c.RateLimit.Categories {
		if cat.Limit <= 0 {
			return fmt.Errorf("rate_limit.categories.%s.limit must be positive", name)
		}
		if cat.Window <= 0 {
			return fmt.Errorf("rate_limit.categories.%s.window must be positive", name)
		}
	}
	if c.Geo.Enabled && c.Geo.LookupTimeout <= 0 {
		return fmt.Errorf("geo.lookup_timeout must be positive")
	}
	return nil
}
