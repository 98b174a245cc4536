// Package config provides configuration management for the research session service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PostgreSQL SSL modes accepted by database.ssl_mode.
const (
	// SSLModeDisable turns SSL off. Local development only.
	SSLModeDisable = "disable"
	// SSLModeRequire encrypts the connection without certificate checks.
	SSLModeRequire = "require"
	// SSLModeVerifyCA additionally checks the server certificate chain.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull also checks the hostname against the certificate.
	SSLModeVerifyFull = "verify-full"
)

// Storage driver names selectable via storage.driver.
const (
	// DriverMemory keeps session state in process memory only.
	DriverMemory = "memory"
	// DriverRedis persists session state in Redis.
	DriverRedis = "redis"
	// DriverPostgres persists session state in PostgreSQL.
	DriverPostgres = "postgres"
)

// Config holds all configuration for the research session service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Storage selects the session state backend.
	Storage StorageConfig `mapstructure:"storage"`
	// Database contains PostgreSQL connection settings (postgres driver).
	Database DatabaseConfig `mapstructure:"database"`
	// Redis contains Redis connection settings (redis driver).
	Redis RedisConfig `mapstructure:"redis"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Session contains session coordinator and manager tunables.
	Session SessionConfig `mapstructure:"session"`
	// Tiers contains the tier catalog definitions.
	Tiers TiersConfig `mapstructure:"tiers"`
	// Reports contains the report pricing/generation API client settings.
	Reports ReportsConfig `mapstructure:"reports"`
	// Analytics contains Kafka analytics forwarder settings.
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// ServerConfig holds the listener and timeout settings for both the API
// server and the metrics server.
type ServerConfig struct {
	// Host is the bind address, 0.0.0.0 by default.
	Host string `mapstructure:"host"`
	// HTTPPort is where the API listens, 8080 by default.
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is where the metrics listener runs, 9091 by default.
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout bounds reading a request, header through body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. Zero keeps
	// it unlimited; SSE event streams are long-lived writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is how long a keep-alive connection may sit idle.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout caps how long graceful shutdown waits for in-flight
	// requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the session state backend.
type StorageConfig struct {
	// Driver is one of memory, redis, postgres (default: memory).
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig holds PostgreSQL connection and pool settings.
type DatabaseConfig struct {
	// Host names the PostgreSQL server.
	Host string `mapstructure:"host"`
	// Port is the server port, 5432 by default.
	Port int `mapstructure:"port"`
	// User authenticates the connection.
	User string `mapstructure:"user"`
	// Password authenticates the connection; set it through the
	// environment in production.
	Password string `mapstructure:"password"`
	// Name selects the database.
	Name string `mapstructure:"name"`
	// SSLMode is one of require, verify-ca, verify-full, disable.
	// "require" is the default; only local development should disable it.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns caps the pool size (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is how many connections the pool keeps warm (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime recycles connections older than this.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime closes connections idle longer than this.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is how often idle connections are probed.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout bounds establishing a new connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath locates the migration files, relative or absolute.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity sizes the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Host names the Redis server.
	Host string `mapstructure:"host"`
	// Port is the server port, 6379 by default.
	Port int `mapstructure:"port"`
	// Password authenticates the connection; set it through the
	// environment in production.
	Password string `mapstructure:"password"`
	// DB is the Redis database index.
	DB int `mapstructure:"db"`
	// DialTimeout bounds establishing a connection.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// KeyTTL is the expiry applied to session keys. Zero keeps keys forever.
	KeyTTL time.Duration `mapstructure:"key_ttl"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal, panic.
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
	// Output is stdout or stderr.
	Output string `mapstructure:"output"`
	// AddSource includes the caller location in log entries.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format for log entries.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus exposure settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics server is started.
	Enabled bool `mapstructure:"enabled"`
	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`
}

// SessionConfig holds session coordinator and manager tunables.
type SessionConfig struct {
	// DuplicateWindow is the trailing window for duplicate message delivery.
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	// MaxHistory caps the conversation history length.
	MaxHistory int `mapstructure:"max_history"`
	// DefaultTier is assumed when a session never states a tier.
	DefaultTier string `mapstructure:"default_tier"`
	// IdleTTL is the inactivity window after which a session's coordinator
	// is evicted from memory. Zero disables eviction.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
	// SweepInterval is how often idle sessions are scanned for.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TiersConfig holds the tier catalog definitions.
type TiersConfig struct {
	// Definitions replaces the built-in tier catalog when non-empty.
	Definitions []TierDefinition `mapstructure:"definitions"`
}

// TierDefinition is one tier's capacity and pricing, as decoded from
// configuration.
type TierDefinition struct {
	// Name is the tier identifier sessions state.
	Name string `mapstructure:"name"`
	// Label is the human-readable tier name.
	Label string `mapstructure:"label"`
	// MaxSelectedSources is the selection capacity.
	MaxSelectedSources int `mapstructure:"max_selected_sources"`
	// PricePerSource is the per-source report price.
	PricePerSource float64 `mapstructure:"price_per_source"`
	// FlatReportPrice, when positive, replaces per-source pricing.
	FlatReportPrice float64 `mapstructure:"flat_report_price"`
}

// ReportsConfig holds the report pricing/generation API client settings.
type ReportsConfig struct {
	// Enabled controls whether report generation is available.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the reports API base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the bearer token (loaded from SESSION_REPORTS_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Timeout bounds one API call.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the sustained request rate toward the API.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the burst allowance on top of RateLimit.
	BurstSize int `mapstructure:"burst_size"`
	// MaxRetries is the maximum retry attempts for retryable failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// AnalyticsConfig holds Kafka analytics forwarder settings.
type AnalyticsConfig struct {
	// Enabled controls whether session events are forwarded to Kafka.
	Enabled bool `mapstructure:"enabled"`
	// Brokers lists the Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic session events are published to.
	Topic string `mapstructure:"topic"`
	// QueueSize bounds the in-memory handoff queue.
	QueueSize int `mapstructure:"queue_size"`
	// WriteTimeout bounds a single broker write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DSN assembles the PostgreSQL connection string, URL-escaping credentials.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress is the host:port the API server binds.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress is the host:port the metrics server binds.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Address is the host:port of the Redis server.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load assembles the configuration from defaults, an optional config file,
// and SESSION_-prefixed environment variables, then validates it.
// Environment variables win over the file; the file wins over defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-session-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; env vars and defaults carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets fills the fields that must never come from a config file.
// They carry mapstructure:"-" so only the environment can set them.
func loadSecrets(cfg *Config) {
	cfg.Reports.APIKey = os.Getenv("SESSION_REPORTS_API_KEY")
}

// setDefaults registers a default for every key so AutomaticEnv can see the
// full key set.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	// No write timeout: the SSE event stream is a long-lived response.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Storage
	v.SetDefault("storage.driver", DriverMemory)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "session")
	v.SetDefault("database.password", "")
	// SSL stays on unless SESSION_DATABASE_SSL_MODE=disable is set.
	v.SetDefault("database.name", "research_session_service")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	// Session keys live until the session is explicitly cleared.
	v.SetDefault("redis.key_ttl", "0s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Session
	v.SetDefault("session.duplicate_window", "5s")
	v.SetDefault("session.max_history", 500)
	v.SetDefault("session.default_tier", "free")
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.sweep_interval", "1m")

	// Tiers: no default definitions; the built-in catalog applies when empty.

	// Reports API (disabled until a base URL is configured).
	// The API key is loaded exclusively from the environment (see loadSecrets).
	v.SetDefault("reports.enabled", false)
	v.SetDefault("reports.base_url", "")
	v.SetDefault("reports.timeout", "30s")
	v.SetDefault("reports.rate_limit", 5.0)
	v.SetDefault("reports.burst_size", 5)
	v.SetDefault("reports.max_retries", 3)
	v.SetDefault("reports.retry_delay", "1s")

	// Analytics
	v.SetDefault("analytics.enabled", false)
	v.SetDefault("analytics.brokers", []string{"localhost:9092"})
	v.SetDefault("analytics.topic", "sessions.events")
	v.SetDefault("analytics.queue_size", 256)
	v.SetDefault("analytics.write_timeout", "5s")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// The selected storage driver pulls in its backend's requirements.
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required for the redis driver")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
		}
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres driver")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required for the postgres driver")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Session.DuplicateWindow < 0 {
		return fmt.Errorf("session duplicate_window must not be negative")
	}
	if c.Session.MaxHistory <= 0 {
		return fmt.Errorf("session max_history must be positive")
	}

	// Tier definitions are validated by the catalog at construction; check
	// here only what makes error messages clearer at startup.
	for i, tier := range c.Tiers.Definitions {
		if tier.Name == "" {
			return fmt.Errorf("tier definition %d has no name", i)
		}
	}

	if c.Reports.Enabled && c.Reports.BaseURL == "" {
		return fmt.Errorf("reports base_url is required when reports are enabled")
	}

	if c.Analytics.Enabled {
		if len(c.Analytics.Brokers) == 0 {
			return fmt.Errorf("analytics brokers are required when analytics is enabled")
		}
		if c.Analytics.Topic == "" {
			return fmt.Errorf("analytics topic is required when analytics is enabled")
		}
	}

	return nil
}
