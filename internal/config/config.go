package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the LiveSync configuration
type Config struct {
	Tenant string       `mapstructure:"tenant"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Source SourceConfig `mapstructure:"source"`
	Diag   DiagConfig   `mapstructure:"diag"`
	Debug  bool         `mapstructure:"debug"`
}

// SyncConfig contains subscription lifecycle and batching settings
type SyncConfig struct {
	DebounceWindow   time.Duration `mapstructure:"debounce_window"`
	MaxQueueSize     int           `mapstructure:"max_queue_size"`
	DedupOnCollision bool          `mapstructure:"dedup_on_collision"`
	HistoryLimit     int           `mapstructure:"history_limit"`
}

// SourceConfig contains push-data provider settings
type SourceConfig struct {
	Backend  string `mapstructure:"backend"` // local or redis
	RedisURL string `mapstructure:"redis_url"`
}

// DiagConfig contains diagnostics endpoint settings
type DiagConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	v.SetConfigName("livesync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/livesync")

	setDefaults(v)

	// Enable environment variable support with underscore replacer
	v.AutomaticEnv()
	v.SetEnvPrefix("LIVESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (if it exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Sync defaults
	v.SetDefault("sync.debounce_window", "100ms")
	v.SetDefault("sync.max_queue_size", 64)
	v.SetDefault("sync.dedup_on_collision", true)
	v.SetDefault("sync.history_limit", 256)

	// Source defaults
	v.SetDefault("source.backend", "local")

	// Diag defaults
	v.SetDefault("diag.enabled", true)
	v.SetDefault("diag.address", ":8090")

	// General defaults
	v.SetDefault("tenant", "")
	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Sync.DebounceWindow <= 0 {
		return fmt.Errorf("sync.debounce_window must be positive")
	}

	if c.Sync.MaxQueueSize <= 0 {
		return fmt.Errorf("sync.max_queue_size must be positive")
	}

	if c.Sync.HistoryLimit <= 0 {
		return fmt.Errorf("sync.history_limit must be positive")
	}

	switch c.Source.Backend {
	case "local":
	case "redis":
		if c.Source.RedisURL == "" {
			return fmt.Errorf("source.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("source backend must be 'local' or 'redis'")
	}

	if c.Diag.Enabled && c.Diag.Address == "" {
		return fmt.Errorf("diag.address is required when diagnostics are enabled")
	}

	return nil
}
