// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Channel       ChannelConfig      `mapstructure:"channel"`
	Classifier    ClassifierConfig   `mapstructure:"classifier"`
	Calendar      CalendarConfig     `mapstructure:"calendar"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Reminders     ReminderConfig     `mapstructure:"reminders"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	// MetricsAddr is where the health/metrics server listens.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	// IndexPrefix namespaces property indices per tenant
	// (<prefix>-<tenant-id>).
	IndexPrefix string `mapstructure:"index_prefix"`
}

// ChannelConfig configures the inbound messaging consumers.
type ChannelConfig struct {
	Broker string `mapstructure:"broker"`
	// MessagesTopic carries inbound lead messages.
	MessagesTopic string `mapstructure:"messages_topic"`
	// ListingsTopic carries scraped property payloads.
	ListingsTopic string `mapstructure:"listings_topic"`
	GroupID       string `mapstructure:"group_id"`
	// DedupeTTL bounds how long a channel message-id is remembered.
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

// ClassifierConfig points at the intent classifier/responder API.
type ClassifierConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// CalendarConfig points at the calendar provider API.
type CalendarConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	// OfferWindowDays is how far ahead free/busy is queried when offering
	// slots.
	OfferWindowDays int `mapstructure:"offer_window_days"`
}

// NotificationConfig holds settings for the outbound sender.
type NotificationConfig struct {
	AWSRegion string        `mapstructure:"aws_region"`
	Timeout   time.Duration `mapstructure:"timeout"`
	SMS       struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
}

// ReminderConfig tunes the background reminder dispatcher.
type ReminderConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	// SweepInterval drives the Waiting -> Inactive conversation sweep that
	// shares the dispatcher loop.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
