// Package main provides the firealarm server CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/firealarmweb/firealarm/internal/export"
	"github.com/firealarmweb/firealarm/internal/logging"
	"github.com/firealarmweb/firealarm/internal/storage"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Chat      ChatConfig      `yaml:"chat"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   logging.Config  `yaml:"logging"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress    string   `yaml:"http_address"`    // API listen address (default: :8080)
	MetricsAddress string   `yaml:"metrics_address"` // Prometheus listen address, empty disables (default: :9090)
	SecureCookies  bool     `yaml:"secure_cookies"`  // set behind HTTPS
	TrustedOrigins []string `yaml:"trusted_origins"` // extra CSRF origins
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite or postgres
	Path         string `yaml:"path"`   // sqlite file
	DSN          string `yaml:"dsn"`    // postgres connection string
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig contains token and rate limit settings. Durations use Go syntax.
type AuthConfig struct {
	AccessTokenTTL   string `yaml:"access_token_ttl"`
	SessionTTL       string `yaml:"session_ttl"`
	RateLimitPerIP   int    `yaml:"rate_limit_per_ip"`
	RateLimitPerUser int    `yaml:"rate_limit_per_user"`
	LockoutThreshold int    `yaml:"lockout_threshold"`
	LockoutDuration  string `yaml:"lockout_duration"`
}

// IncidentsConfig tunes correlation and export.
type IncidentsConfig struct {
	CorrelationTolerance string `yaml:"correlation_tolerance"`
	ExportTimezone       string `yaml:"export_timezone"`
}

// ChatConfig tunes the message stream.
type ChatConfig struct {
	SendBuffer        int    `yaml:"send_buffer"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	RetryMs           int    `yaml:"retry_ms"`
}

// NotifyConfig enables outbound incident notifications.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	RatePerMinute   int    `yaml:"rate_per_minute"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = storage.DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/firealarm.db"
	}
	if c.Auth.AccessTokenTTL == "" {
		c.Auth.AccessTokenTTL = "15m"
	}
	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = "24h"
	}
	if c.Auth.LockoutDuration == "" {
		c.Auth.LockoutDuration = "15m"
	}
	if c.Incidents.CorrelationTolerance == "" {
		c.Incidents.CorrelationTolerance = "1h"
	}
	if c.Incidents.ExportTimezone == "" {
		c.Incidents.ExportTimezone = export.DefaultTimezone
	}
	if c.Chat.HeartbeatInterval == "" {
		c.Chat.HeartbeatInterval = "15s"
	}
	if c.Notify.RatePerMinute == 0 {
		c.Notify.RatePerMinute = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	switch c.Database.Driver {
	case storage.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case storage.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	durations := []struct {
		field, value string
	}{
		{"auth.access_token_ttl", c.Auth.AccessTokenTTL},
		{"auth.session_ttl", c.Auth.SessionTTL},
		{"auth.lockout_duration", c.Auth.LockoutDuration},
		{"incidents.correlation_tolerance", c.Incidents.CorrelationTolerance},
		{"chat.heartbeat_interval", c.Chat.HeartbeatInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.field)
		}
	}

	if _, err := export.LoadLocation(c.Incidents.ExportTimezone); err != nil {
		return fmt.Errorf("incidents.export_timezone: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Chat.SendBuffer < 0 {
		return fmt.Errorf("chat.send_buffer must not be negative")
	}
	if u := c.Notify.SlackWebhookURL; u != "" && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("notify.slack_webhook_url must use HTTPS")
	}
	return nil
}

// duration parses a value Validate has already checked.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
