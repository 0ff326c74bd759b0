// Package config loads the process-wide configuration: the single YAML
// config file plus the environment variables spec.md §6 declares as
// process-wide state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the control surface listener.
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig controls the persistence-layer pool.
type DatabaseConfig struct {
	URL                   string        `yaml:"url"`
	MaxOpenConns          int           `yaml:"max_open_conns"`
	MaxIdleBurst          int           `yaml:"max_idle_burst"`
	ConnMaxLifetime       time.Duration `yaml:"conn_max_lifetime"`
	TransactionCeiling    time.Duration `yaml:"transaction_ceiling"`
}

// QueueConfig controls dispatcher polling and lease defaults.
type QueueConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	IdleBackoffMax time.Duration `yaml:"idle_backoff_max"`
	DefaultLease   time.Duration `yaml:"default_lease"`
	UploadLease    time.Duration `yaml:"upload_lease"`
}

// SubprocessConfig controls the supervisor's defaults.
type SubprocessConfig struct {
	ScriptsDir     string        `yaml:"scripts_dir"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
	MaxCaptureBytes int          `yaml:"max_capture_bytes"`
}

// PlanningDBConfig controls the rate-limited planning-db client.
type PlanningDBConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	MaxRetries     int           `yaml:"max_retries"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// UploadConfig controls the external video-upload API client: its base
// URL and the shared OAuth2 endpoint every channel's refresh token is
// redeemed against.
type UploadConfig struct {
	BaseURL        string  `yaml:"base_url"`
	AuthURL        string  `yaml:"auth_url"`
	TokenURL       string  `yaml:"token_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChannelRegistryConfig controls the channel config directory watcher.
type ChannelRegistryConfig struct {
	ConfigDir string `yaml:"config_dir"`
}

// Config is the top-level process configuration.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Database   DatabaseConfig        `yaml:"database"`
	Queue      QueueConfig           `yaml:"queue"`
	Subprocess SubprocessConfig      `yaml:"subprocess"`
	PlanningDB PlanningDBConfig      `yaml:"planning_db"`
	Upload     UploadConfig          `yaml:"upload"`
	Logging    LoggingConfig         `yaml:"logging"`
	Channels   ChannelRegistryConfig `yaml:"channels"`

	WorkspaceRoot        string `yaml:"-"`
	EncryptionKey        string `yaml:"-"`
	WebhookSecret        string `yaml:"-"`
	AlertWebhookURL      string `yaml:"-"`
	AlertSlackWebhookURL string `yaml:"-"`
	RedisURL             string `yaml:"-"`
	UploadClientID       string `yaml:"-"`
	UploadClientSecret   string `yaml:"-"`
	CORSOrigins          string `yaml:"-"`
}

// DefaultConfig returns the configuration a minimal deployment boots
// with if the YAML file omits a section entirely.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:       10,
			MaxIdleBurst:       5,
			ConnMaxLifetime:    30 * time.Minute,
			TransactionCeiling: 2 * time.Second,
		},
		Queue: QueueConfig{
			PollInterval:   2 * time.Second,
			IdleBackoffMax: 5 * time.Second,
			DefaultLease:   30 * time.Minute,
			UploadLease:    40 * time.Minute,
		},
		Subprocess: SubprocessConfig{
			ScriptsDir:      "scripts",
			DefaultTimeout:  600 * time.Second,
			UploadTimeout:   1200 * time.Second,
			MaxCaptureBytes: 1 << 20,
		},
		PlanningDB: PlanningDBConfig{
			RequestsPerSec: 3,
			MaxRetries:     3,
			PollInterval:   60 * time.Second,
		},
		Upload: UploadConfig{
			RequestsPerSec: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Channels: ChannelRegistryConfig{
			ConfigDir: "channel_configs",
		},
	}
}

// Load reads path as YAML into a Config seeded from DefaultConfig, then
// layers in environment variable overrides via LoadEnv.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.LoadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadEnv reads the process-wide environment variables from spec.md §6.
// DATABASE_URL, ENCRYPTION_KEY and WEBHOOK_SECRET are read once at
// startup and never hot-reloaded.
func (c *Config) LoadEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		c.WebhookSecret = v
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		c.AlertWebhookURL = v
	}
	if v := os.Getenv("ALERT_SLACK_WEBHOOK_URL"); v != "" {
		c.AlertSlackWebhookURL = v
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	} else if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "./workspace"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("UPLOAD_CLIENT_ID"); v != "" {
		c.UploadClientID = v
	}
	if v := os.Getenv("UPLOAD_CLIENT_SECRET"); v != "" {
		c.UploadClientSecret = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = v
	}
}

// Validate reports a precise error for any configuration that would
// prevent safe startup. It does not validate per-channel config — that
// is internal/channelreg's job, and a bad channel file must never block
// the rest of the process from booting.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (or DATABASE_URL) is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.TransactionCeiling <= 0 {
		return fmt.Errorf("database.transaction_ceiling must be positive")
	}
	if c.PlanningDB.RequestsPerSec <= 0 {
		return fmt.Errorf("planning_db.requests_per_sec must be positive")
	}
	return nil
}
