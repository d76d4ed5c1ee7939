// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored when absent.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from the working directory upward so tests in
// nested packages pick it up too.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "corretor-hub"
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":8080"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 20
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.IndexPrefix == "" {
		cfg.Database.Elasticsearch.IndexPrefix = "properties"
	}
	if cfg.Channel.MessagesTopic == "" {
		cfg.Channel.MessagesTopic = "inbound-messages"
	}
	if cfg.Channel.ListingsTopic == "" {
		cfg.Channel.ListingsTopic = "property-listings"
	}
	if cfg.Channel.GroupID == "" {
		cfg.Channel.GroupID = "corretor-hub"
	}
	if cfg.Channel.DedupeTTL == 0 {
		cfg.Channel.DedupeTTL = 48 * time.Hour
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 10 * time.Second
	}
	if cfg.Classifier.MaxRetries == 0 {
		cfg.Classifier.MaxRetries = 1
	}
	if cfg.Calendar.Timeout == 0 {
		cfg.Calendar.Timeout = 5 * time.Second
	}
	if cfg.Calendar.OfferWindowDays == 0 {
		cfg.Calendar.OfferWindowDays = 7
	}
	if cfg.Notifications.Timeout == 0 {
		cfg.Notifications.Timeout = 5 * time.Second
	}
	if cfg.Reminders.PollInterval == 0 {
		cfg.Reminders.PollInterval = time.Minute
	}
	if cfg.Reminders.SendTimeout == 0 {
		cfg.Reminders.SendTimeout = 10 * time.Second
	}
	if cfg.Reminders.SweepInterval == 0 {
		cfg.Reminders.SweepInterval = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Channel.Broker == "" {
		return fmt.Errorf("channel.broker is required")
	}
	if cfg.Classifier.BaseURL == "" {
		return fmt.Errorf("classifier.base_url is required")
	}
	if cfg.Calendar.BaseURL == "" {
		return fmt.Errorf("calendar.base_url is required")
	}
	return nil
}
