package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	Sync        SyncConfig        `mapstructure:"sync" validate:"required"`
	Jobs        JobsConfig        `mapstructure:"jobs" validate:"required"`
	Alarms      AlarmsConfig      `mapstructure:"alarms" validate:"required"`
	Credentials CredentialsConfig `mapstructure:"credentials" validate:"required"`
	Google      GoogleConfig      `mapstructure:"google"`
	CalDAV      CalDAVConfig      `mapstructure:"caldav"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFile         string        `mapstructure:"log_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// AllowedOrigins are host patterns accepted on websocket upgrades.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL          string `mapstructure:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0,lt=1000000"`
}

// SyncConfig controls the sync coordinator and reconciler.
type SyncConfig struct {
	Interval           time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxConcurrentLists int           `mapstructure:"max_concurrent_lists" validate:"gte=1"`
	PassTimeout        time.Duration `mapstructure:"pass_timeout" validate:"gt=0"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0"`
	TombstoneRetention time.Duration `mapstructure:"tombstone_retention" validate:"gt=0"`
	// BindingsFile is an optional YAML file of list bindings watched for changes.
	BindingsFile string `mapstructure:"bindings_file"`
}

// JobsConfig controls the persistent job runner behind alarms.
type JobsConfig struct {
	WorkerCount  int           `mapstructure:"worker_count" validate:"gte=1"`
	QueueSize    int           `mapstructure:"queue_size" validate:"gte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	StuckJobAge  time.Duration `mapstructure:"stuck_job_age" validate:"gt=0"`
}

// AlarmsConfig controls reminder scheduling.
type AlarmsConfig struct {
	// DefaultReminderHour is the local hour at which date-only due dates alarm.
	DefaultReminderHour int    `mapstructure:"default_reminder_hour" validate:"gte=0,lte=23"`
	Timezone            string `mapstructure:"timezone" validate:"required,timezone"`
}

// CredentialsConfig holds the key sealing stored provider credentials.
type CredentialsConfig struct {
	EncryptionKey string `mapstructure:"encryption_key" validate:"required,len=64,hexadecimal"`
}

// GoogleConfig holds the OAuth client used for Google Tasks.
type GoogleConfig struct {
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
}

// CalDAVConfig holds CalDAV transport settings.
type CalDAVConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}
