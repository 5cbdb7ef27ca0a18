package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "TASKSYNC"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tasksync")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// boundKeys are keys without a default that must still be settable from the environment.
var boundKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"credentials.encryption_key",
	"google.client_id",
	"google.client_secret",
	"sync.bindings_file",
	"server.log_file",
	"server.allowed_origins",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.max_concurrent_lists", 4)
	v.SetDefault("sync.pass_timeout", 2*time.Minute)
	v.SetDefault("sync.retry_base_delay", 2*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.tombstone_retention", 30*24*time.Hour)

	v.SetDefault("jobs.worker_count", 2)
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.poll_interval", 5*time.Second)
	v.SetDefault("jobs.stuck_job_age", 10*time.Minute)

	v.SetDefault("alarms.default_reminder_hour", 9)
	v.SetDefault("alarms.timezone", "UTC")

	v.SetDefault("google.requests_per_second", 5.0)

	v.SetDefault("caldav.request_timeout", 30*time.Second)
}
