// Package main provides the LogNexus server CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/lognexus/internal/logging"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
)

// Environment overrides applied after the config file is read.
const (
	envDBPath       = "LOGNEXUS_DB_PATH"
	envHTTPAddress  = "LOGNEXUS_HTTP_ADDRESS"
	envSMTPPassword = "LOGNEXUS_SMTP_PASSWORD"
	envNATSURL      = "LOGNEXUS_NATS_URL"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Logs          LogsConfig          `yaml:"logs"`
	Alerting      AlertingConfig      `yaml:"alerting"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       logging.Config      `yaml:"logging"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	HTTPAddress       string        `yaml:"http_address"`        // default: :8080
	QueryTimeout      time.Duration `yaml:"query_timeout"`       // default: 10s
	StreamMaxDuration time.Duration `yaml:"stream_max_duration"` // default: 30m
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: ./data/lognexus.db
}

// LogsConfig selects and tunes the log backend.
type LogsConfig struct {
	Backend       string           `yaml:"backend"` // sqlite or clickhouse
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
	Buffer        LogBufferConfig  `yaml:"buffer"`
	RetentionDays int              `yaml:"retention_days"`
}

// ClickHouseConfig contains ClickHouse connection settings.
type ClickHouseConfig struct {
	Addresses    []string `yaml:"addresses"`
	Database     string   `yaml:"database"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	MaxOpenConns int      `yaml:"max_open_conns"`
	Compression  bool     `yaml:"compression"`
}

// LogBufferConfig tunes batching of ingested log entries.
type LogBufferConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxSize       int           `yaml:"max_size"`
}

// AlertingConfig contains evaluation and retention settings.
type AlertingConfig struct {
	EvaluationInterval    time.Duration `yaml:"evaluation_interval"`
	Workers               int           `yaml:"workers"`
	DefinitionsFile       string        `yaml:"definitions_file"`
	WatchDefinitions      bool          `yaml:"watch_definitions"`
	InstanceRetentionDays int           `yaml:"instance_retention_days"`
	RetentionInterval     time.Duration `yaml:"retention_interval"`
	CustomQueryMaxScan    int           `yaml:"custom_query_max_scan"`
}

// MonitorConfig contains server health monitor settings.
type MonitorConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	TimeoutSeconds       int `yaml:"timeout_seconds"`
	InitialDelaySeconds  int `yaml:"initial_delay_seconds"`
}

// NotificationsConfig contains delivery settings.
type NotificationsConfig struct {
	SMTP           SMTPConfig               `yaml:"smtp"`
	RateLimit      notifier.RateLimitConfig `yaml:"rate_limit"`
	WebhookTimeout time.Duration            `yaml:"webhook_timeout"`
	AllowHTTP      bool                     `yaml:"allow_http_webhooks"`
}

// SMTPConfig contains email settings. Email delivery is off when Host is empty.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// BroadcastConfig contains event fan-out settings.
type BroadcastConfig struct {
	SubscriberBuffer int        `yaml:"subscriber_buffer"`
	NATS             NATSConfig `yaml:"nats"`
}

// NATSConfig contains NATS publishing settings.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadConfig loads configuration from a YAML file. An empty path yields the
// defaults. Environment overrides apply in both cases.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv reads KEY=value pairs from path into the environment. Existing
// variables win. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(envHTTPAddress); v != "" {
		c.Server.HTTPAddress = v
	}
	if v := os.Getenv(envSMTPPassword); v != "" {
		c.Notifications.SMTP.Password = v
	}
	if v := os.Getenv(envNATSURL); v != "" {
		c.Broadcast.NATS.URL = v
		c.Broadcast.NATS.Enabled = true
	}
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/lognexus.db"
	}

	if c.Logs.Backend == "" {
		c.Logs.Backend = "sqlite"
	}
	if c.Logs.ClickHouse.Database == "" {
		c.Logs.ClickHouse.Database = "lognexus"
	}
	if c.Logs.Buffer.BatchSize == 0 {
		c.Logs.Buffer.BatchSize = 1000
	}
	if c.Logs.Buffer.FlushInterval == 0 {
		c.Logs.Buffer.FlushInterval = 2 * time.Second
	}
	if c.Logs.RetentionDays == 0 {
		c.Logs.RetentionDays = 30
	}

	if c.Alerting.EvaluationInterval == 0 {
		c.Alerting.EvaluationInterval = time.Minute
	}
	if c.Alerting.Workers == 0 {
		c.Alerting.Workers = 4
	}
	if c.Alerting.InstanceRetentionDays == 0 {
		c.Alerting.InstanceRetentionDays = 90
	}
	if c.Alerting.RetentionInterval == 0 {
		c.Alerting.RetentionInterval = time.Hour
	}

	if c.Monitor.CheckIntervalSeconds == 0 {
		c.Monitor.CheckIntervalSeconds = 30
	}
	if c.Monitor.TimeoutSeconds == 0 {
		c.Monitor.TimeoutSeconds = 300
	}
	if c.Monitor.InitialDelaySeconds == 0 {
		c.Monitor.InitialDelaySeconds = 120
	}

	if c.Notifications.SMTP.Port == 0 {
		c.Notifications.SMTP.Port = 587
	}
	if c.Notifications.RateLimit.PerMinute == 0 && c.Notifications.RateLimit.Burst == 0 && !c.Notifications.RateLimit.Enabled {
		c.Notifications.RateLimit = notifier.DefaultRateLimitConfig()
	}
	if c.Notifications.WebhookTimeout == 0 {
		c.Notifications.WebhookTimeout = 30 * time.Second
	}

	if c.Broadcast.SubscriberBuffer == 0 {
		c.Broadcast.SubscriberBuffer = 64
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logs.Backend {
	case "sqlite":
	case "clickhouse":
		if len(c.Logs.ClickHouse.Addresses) == 0 {
			return fmt.Errorf("logs.clickhouse.addresses is required when logs.backend is clickhouse")
		}
	default:
		return fmt.Errorf("logs.backend must be sqlite or clickhouse, got %q", c.Logs.Backend)
	}
	if c.Logs.RetentionDays < 0 {
		return fmt.Errorf("logs.retention_days must not be negative")
	}

	if c.Alerting.EvaluationInterval <= 0 {
		return fmt.Errorf("alerting.evaluation_interval must be positive")
	}
	if c.Alerting.Workers < 1 {
		return fmt.Errorf("alerting.workers must be at least 1")
	}
	if c.Alerting.WatchDefinitions && c.Alerting.DefinitionsFile == "" {
		return fmt.Errorf("alerting.definitions_file is required when watch_definitions is set")
	}

	if c.Monitor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.check_interval_seconds must be positive")
	}
	if c.Monitor.TimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.timeout_seconds must be positive")
	}
	if c.Monitor.InitialDelaySeconds < 0 {
		return fmt.Errorf("monitor.initial_delay_seconds must not be negative")
	}

	if c.Notifications.SMTP.Host != "" {
		email := c.emailConfig()
		if err := email.Validate(); err != nil {
			return fmt.Errorf("notifications.smtp: %w", err)
		}
	}
	if c.Notifications.RateLimit.Enabled && c.Notifications.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("notifications.rate_limit.per_minute must be positive")
	}

	if c.Broadcast.NATS.Enabled && strings.TrimSpace(c.Broadcast.NATS.URL) == "" {
		return fmt.Errorf("broadcast.nats.url is required when nats is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) emailConfig() notifier.EmailConfig {
	s := c.Notifications.SMTP
	return notifier.EmailConfig{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		From:     s.From,
	}
}
