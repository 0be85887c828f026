// Package config provides configuration management for the dispatch orchestrator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
	Dispatch    DispatchConfig
	Gateway     GatewayConfig
	Events      EventsConfig
	Stores      StoresConfig
	Maintenance MaintenanceConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// AutoMigrate applies pending migrations at startup
	AutoMigrate bool
	// WebhookToken authenticates POST /webhooks/gateway. Empty disables the check.
	WebhookToken string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// URL returns the connection URL used by migrations
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SQLiteConfig holds the single-node event log database
type SQLiteConfig struct {
	Path string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// DispatchConfig holds dispatch bounds, billing and safe-mode defaults
type DispatchConfig struct {
	MaxAttempts          int
	ConversationAttempts int
	PollInterval         time.Duration
	MaxWait              time.Duration
	CostPerDeliveryCents int64
	StatsTimezone        string
	// DefaultCountryCode applies to requests that do not name one
	DefaultCountryCode string
}

// GatewayConfig holds the messaging gateway connection
type GatewayConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// EventsConfig holds the push event bridges. Empty values disable a bridge.
type EventsConfig struct {
	RedisChannel  string
	AMQPURL       string
	AMQPExchange  string
	Source        string
	SubscriberBuf int
}

// StoresConfig selects storage backends
type StoresConfig struct {
	EventLog string // clickhouse | sqlite | memory
	Credit   string // postgres | redis | memory
	Accounts string // postgres | memory
}

// MaintenanceConfig holds the cron schedules of background maintenance
type MaintenanceConfig struct {
	CooldownSweep  string
	JobPrune       string
	JobRetention   time.Duration
	TrackedMaxAge  time.Duration
	EventRetention time.Duration
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			AutoMigrate:  getEnvAsBool("SERVER_AUTO_MIGRATE", false),
			WebhookToken: getEnv("WEBHOOK_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "dispatch"),
				User:           getEnv("POSTGRES_USER", "dispatch"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "dispatch"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "data/events.db"),
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Dispatch: DispatchConfig{
			MaxAttempts:          getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 4),
			ConversationAttempts: getEnvAsInt("DISPATCH_CONVERSATION_ATTEMPTS", 3),
			PollInterval:         getEnvAsDuration("DISPATCH_POLL_INTERVAL", time.Second),
			MaxWait:              getEnvAsDuration("DISPATCH_MAX_WAIT", 2*time.Minute),
			CostPerDeliveryCents: int64(getEnvAsInt("BILLING_COST_CENTS", 1)),
			StatsTimezone:        getEnv("STATS_TIMEZONE", "UTC"),
			DefaultCountryCode:   getEnv("DEFAULT_COUNTRY_CODE", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:         getEnv("GATEWAY_URL", "http://localhost:3001"),
			Token:           getEnv("GATEWAY_TOKEN", ""),
			Timeout:         getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			BreakerFailures: getEnvAsInt("GATEWAY_BREAKER_FAILURES", 5),
			BreakerTimeout:  getEnvAsDuration("GATEWAY_BREAKER_TIMEOUT", 30*time.Second),
		},
		Events: EventsConfig{
			RedisChannel:  getEnv("EVENTS_REDIS_CHANNEL", ""),
			AMQPURL:       getEnv("EVENTS_AMQP_URL", ""),
			AMQPExchange:  getEnv("EVENTS_AMQP_EXCHANGE", "dispatch.events"),
			Source:        getEnv("EVENTS_SOURCE", hostname()),
			SubscriberBuf: getEnvAsInt("EVENTS_SUBSCRIBER_BUFFER", 256),
		},
		Stores: StoresConfig{
			EventLog: strings.ToLower(getEnv("EVENT_LOG_BACKEND", "sqlite")),
			Credit:   strings.ToLower(getEnv("CREDIT_BACKEND", "postgres")),
			Accounts: strings.ToLower(getEnv("ACCOUNTS_BACKEND", "postgres")),
		},
		Maintenance: MaintenanceConfig{
			CooldownSweep:  getEnv("MAINTENANCE_COOLDOWN_SWEEP", "@every 15s"),
			JobPrune:       getEnv("MAINTENANCE_JOB_PRUNE", "@every 10m"),
			JobRetention:   getEnvAsDuration("MAINTENANCE_JOB_RETENTION", 24*time.Hour),
			TrackedMaxAge:  getEnvAsDuration("MAINTENANCE_TRACKED_MAX_AGE", 72*time.Hour),
			EventRetention: getEnvAsDuration("MAINTENANCE_EVENT_RETENTION", 0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks backend selections and numeric bounds
func (c *Config) Validate() error {
	switch c.Stores.EventLog {
	case "clickhouse", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid EVENT_LOG_BACKEND %q", c.Stores.EventLog)
	}
	switch c.Stores.Credit {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("invalid CREDIT_BACKEND %q", c.Stores.Credit)
	}
	switch c.Stores.Accounts {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid ACCOUNTS_BACKEND %q", c.Stores.Accounts)
	}
	if c.Dispatch.CostPerDeliveryCents <= 0 {
		return fmt.Errorf("BILLING_COST_CENTS must be positive, got %d", c.Dispatch.CostPerDeliveryCents)
	}
	if _, err := time.LoadLocation(c.Dispatch.StatsTimezone); err != nil {
		return fmt.Errorf("invalid STATS_TIMEZONE: %w", err)
	}
	return nil
}

// NeedsPostgres reports whether any selected backend lives in Postgres
func (c *Config) NeedsPostgres() bool {
	return c.Stores.Credit == "postgres" || c.Stores.Accounts == "postgres"
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "dispatch"
	}
	return h
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
