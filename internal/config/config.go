package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the orchestrator configuration.
type Config struct {
	Environment   string            `yaml:"environment"`
	DataStandards []string          `yaml:"data_standards"`
	Logging       LoggingConfig     `yaml:"logging"`
	Retry         RetryConfig       `yaml:"retry"`
	Storage       StorageConfig     `yaml:"storage"`
	Events        EventsConfig      `yaml:"events"`
	Queue         QueueConfig       `yaml:"queue"`
	Upstream      UpstreamConfig    `yaml:"upstream"`
	Schedule      ScheduleConfig    `yaml:"schedule"`
	Workers       WorkersConfig     `yaml:"workers"`
	Consistency   ConsistencyConfig `yaml:"consistency"`
	Server        ServerConfig      `yaml:"server"`
}

// LoggingConfig controls the slog handler built at startup.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// RetryConfig configures the retry policy wrapped around upstream and queue calls.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
	MaxAttempts  int              `yaml:"max_attempts"`
	Jitter       float64          `yaml:"jitter"`
}

// StorageConfig selects the repository implementation.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`
	Path   string        `yaml:"path"`
}

// EventsConfig controls the job lifecycle audit log.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// QueueConfig selects and configures the queue transport.
type QueueConfig struct {
	Driver        QueueDriver `yaml:"driver"`
	NATSURL       string      `yaml:"nats_url"`
	Stream        string      `yaml:"stream"`
	SubjectPrefix string      `yaml:"subject_prefix"`
	PollInterval  string      `yaml:"poll_interval"`
	FetchWait     string      `yaml:"fetch_wait"`
	AckWait       string      `yaml:"ack_wait"`
	Capacity      int         `yaml:"capacity"`
}

// UpstreamConfig points at the catalogue and file services.
type UpstreamConfig struct {
	CatalogueURL   string `yaml:"catalogue_url"`
	FileServiceURL string `yaml:"file_service_url"`
	Token          string `yaml:"token"`
	Timeout        string `yaml:"timeout"`
	BatchExpiry    string `yaml:"batch_expiry"`
}

// ScheduleConfig controls the periodic trigger. Cron takes precedence over Interval.
type ScheduleConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Interval      string   `yaml:"interval"`
	Cron          string   `yaml:"cron"`
	DataStandards []string `yaml:"data_standards"`
}

// WorkersConfig bounds concurrent pipeline runs and response handling.
type WorkersConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// ConsistencyConfig bounds the retry-until-consistent read used by status queries.
type ConsistencyConfig struct {
	Attempts int    `yaml:"attempts"`
	Delay    string `yaml:"delay"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addr        string   `yaml:"addr"`
	MetricsPath string   `yaml:"metrics_path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads configuration from the specified file, expanding ${VAR} references
// after loading .env files, then applies defaults and validates.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		// Missing .env files are the common case.
		fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configError("configuration file not found", err).WithContext("path", configPath)
		}
		return nil, configError("failed to read config file", err).WithContext("path", configPath)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, configError("failed to unmarshal config", err)
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration using in-memory adapters.
func Default() *Config {
	cfg := &Config{}
	_ = applyDefaults(cfg)
	return cfg
}

// parseDuration parses a duration string, returning fallback for empty or invalid input.
func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// PollIntervalDuration is the idle sleep between empty queue receives.
func (q QueueConfig) PollIntervalDuration() time.Duration {
	return parseDuration(q.PollInterval, time.Second)
}

// FetchWaitDuration is the long-poll wait for a single receive.
func (q QueueConfig) FetchWaitDuration() time.Duration {
	return parseDuration(q.FetchWait, 2*time.Second)
}

// AckWaitDuration is the redelivery timeout for unacknowledged messages.
func (q QueueConfig) AckWaitDuration() time.Duration {
	return parseDuration(q.AckWait, 30*time.Second)
}

// TimeoutDuration is the per-request HTTP timeout for upstream calls.
func (u UpstreamConfig) TimeoutDuration() time.Duration {
	return parseDuration(u.Timeout, 30*time.Second)
}

// BatchExpiryDuration is how long superseded batches are kept before expiring.
func (u UpstreamConfig) BatchExpiryDuration() time.Duration {
	return parseDuration(u.BatchExpiry, 24*time.Hour)
}

// IntervalDuration is the scheduled trigger interval.
func (s ScheduleConfig) IntervalDuration() time.Duration {
	return parseDuration(s.Interval, time.Hour)
}

// DelayDuration is the pause between consistency read attempts.
func (c ConsistencyConfig) DelayDuration() time.Duration {
	return parseDuration(c.Delay, 100*time.Millisecond)
}

// InitialDelayDuration is the first backoff delay.
func (r RetryConfig) InitialDelayDuration() time.Duration {
	return parseDuration(r.InitialDelay, 0)
}

// MaxDelayDuration caps backoff growth.
func (r RetryConfig) MaxDelayDuration() time.Duration {
	return parseDuration(r.MaxDelay, 0)
}
