// Package config provides YAML-based configuration loading for orderbot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orderbot configuration, loaded from orderbot.yaml.
type Config struct {
	Listen      string          `yaml:"listen"`
	Database    DatabaseConfig  `yaml:"database"`
	Session     SessionConfig   `yaml:"session"`
	Webhook     WebhookConfig   `yaml:"webhook"`
	Messenger   MessengerConfig `yaml:"messenger"`
	Slack       SlackConfig     `yaml:"slack"`
	Outbound    OutboundConfig  `yaml:"outbound"`
	Delivery    DeliveryConfig  `yaml:"delivery"`
	Janitor     JanitorConfig   `yaml:"janitor"`
	TenantFiles []string        `yaml:"tenant_files"`
}

// DatabaseConfig selects and locates the SQL database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// SessionConfig controls the conversation session store.
type SessionConfig struct {
	Backend       string `yaml:"backend"` // "sql" or "pebble"
	PebblePath    string `yaml:"pebble_path"`
	TTLMinutes    int    `yaml:"ttl_minutes"`
	MaxCASRetries int    `yaml:"max_cas_retries"`
}

// WebhookConfig bounds webhook handling latency.
type WebhookConfig struct {
	AckBudgetMs       int `yaml:"ack_budget_ms"`
	ProcessTimeoutSec int `yaml:"process_timeout_sec"`
}

// MessengerConfig holds app-level Messenger settings. Page tokens are per
// tenant and live in the tenant files.
type MessengerConfig struct {
	AppSecret           string `yaml:"app_secret"`
	VerifyToken         string `yaml:"verify_token"`
	APIBase             string `yaml:"api_base"`
	APIVersion          string `yaml:"api_version"`
	ReactiveWindowHours int    `yaml:"reactive_window_hours"`
}

// SlackConfig holds app-level Slack settings.
type SlackConfig struct {
	SigningSecret string `yaml:"signing_secret"`
}

// OutboundConfig controls message delivery retries and pacing.
type OutboundConfig struct {
	MaxAttempts          int     `yaml:"max_attempts"`
	BaseBackoffMs        int     `yaml:"base_backoff_ms"`
	RateLimitCooldownSec int     `yaml:"rate_limit_cooldown_sec"`
	SendsPerSecond       float64 `yaml:"sends_per_second"`
	Burst                int     `yaml:"burst"`
}

// DeliveryConfig selects the delivery quote provider.
type DeliveryConfig struct {
	Provider     string `yaml:"provider"` // "none", "flat", "http"
	FlatFee      int64  `yaml:"flat_fee"`
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// JanitorConfig schedules periodic cleanup (5-field cron expressions).
type JanitorConfig struct {
	PruneEventsCron     string `yaml:"prune_events_cron"`
	PurgeSessionsCron   string `yaml:"purge_sessions_cron"`
	ExpirePendingCron   string `yaml:"expire_pending_cron"`
	EventRetentionHours int    `yaml:"event_retention_hours"`
	PendingMaxAgeHours  int    `yaml:"pending_max_age_hours"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets set in the
// environment override the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets from ORDERBOT_* environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Messenger.AppSecret, "ORDERBOT_MESSENGER_APP_SECRET")
	set(&c.Messenger.VerifyToken, "ORDERBOT_MESSENGER_VERIFY_TOKEN")
	set(&c.Slack.SigningSecret, "ORDERBOT_SLACK_SIGNING_SECRET")
	set(&c.Database.Password, "ORDERBOT_DB_PASSWORD")
	set(&c.Delivery.ClientSecret, "ORDERBOT_DELIVERY_CLIENT_SECRET")
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "orderbot.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "orderbot"
		}
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "sql"
	}
	if c.Session.Backend == "pebble" && c.Session.PebblePath == "" {
		c.Session.PebblePath = "data/sessions"
	}
	if c.Session.TTLMinutes == 0 {
		c.Session.TTLMinutes = 24 * 60
	}
	if c.Session.MaxCASRetries == 0 {
		c.Session.MaxCASRetries = 5
	}
	if c.Webhook.AckBudgetMs == 0 {
		c.Webhook.AckBudgetMs = 3000
	}
	if c.Webhook.ProcessTimeoutSec == 0 {
		c.Webhook.ProcessTimeoutSec = 20
	}
	if c.Messenger.APIBase == "" {
		c.Messenger.APIBase = "https://graph.facebook.com"
	}
	if c.Messenger.APIVersion == "" {
		c.Messenger.APIVersion = "v19.0"
	}
	if c.Messenger.ReactiveWindowHours == 0 {
		c.Messenger.ReactiveWindowHours = 24
	}
	if c.Outbound.MaxAttempts == 0 {
		c.Outbound.MaxAttempts = 3
	}
	if c.Outbound.BaseBackoffMs == 0 {
		c.Outbound.BaseBackoffMs = 500
	}
	if c.Outbound.RateLimitCooldownSec == 0 {
		c.Outbound.RateLimitCooldownSec = 5
	}
	if c.Outbound.SendsPerSecond == 0 {
		c.Outbound.SendsPerSecond = 20
	}
	if c.Outbound.Burst == 0 {
		c.Outbound.Burst = 40
	}
	if c.Delivery.Provider == "" {
		c.Delivery.Provider = "none"
	}
	if c.Delivery.TimeoutSec == 0 {
		c.Delivery.TimeoutSec = 5
	}
	if c.Janitor.PruneEventsCron == "" {
		c.Janitor.PruneEventsCron = "15 * * * *"
	}
	if c.Janitor.PurgeSessionsCron == "" {
		c.Janitor.PurgeSessionsCron = "30 3 * * *"
	}
	if c.Janitor.ExpirePendingCron == "" {
		c.Janitor.ExpirePendingCron = "45 * * * *"
	}
	if c.Janitor.EventRetentionHours == 0 {
		c.Janitor.EventRetentionHours = 72
	}
	if c.Janitor.PendingMaxAgeHours == 0 {
		c.Janitor.PendingMaxAgeHours = 7 * 24
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	switch c.Session.Backend {
	case "sql", "pebble":
	default:
		errs = append(errs, fmt.Sprintf("session.backend %q must be sql or pebble", c.Session.Backend))
	}
	switch c.Delivery.Provider {
	case "none":
	case "flat":
		if c.Delivery.FlatFee < 0 {
			errs = append(errs, "delivery.flat_fee must not be negative")
		}
	case "http":
		if c.Delivery.BaseURL == "" {
			errs = append(errs, "delivery.base_url is required for the http provider")
		}
		if c.Delivery.TokenURL != "" && c.Delivery.ClientID == "" {
			errs = append(errs, "delivery.client_id is required when delivery.token_url is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("delivery.provider %q must be none, flat or http", c.Delivery.Provider))
	}
	if c.Session.TTLMinutes < 0 {
		errs = append(errs, "session.ttl_minutes must not be negative")
	}
	if c.Outbound.MaxAttempts < 1 {
		errs = append(errs, "outbound.max_attempts must be at least 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SessionTTL returns the session inactivity TTL.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// AckBudget returns how long a webhook POST may wait before acknowledging.
func (c *Config) AckBudget() time.Duration {
	return time.Duration(c.Webhook.AckBudgetMs) * time.Millisecond
}

// ProcessTimeout returns the upper bound for processing one event.
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Webhook.ProcessTimeoutSec) * time.Second
}

// ReactiveWindow returns the Messenger standard messaging window.
func (c *Config) ReactiveWindow() time.Duration {
	return time.Duration(c.Messenger.ReactiveWindowHours) * time.Hour
}
