package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("DISPATCH_MAX_WAIT", "30s")
	t.Setenv("EVENT_LOG_BACKEND", "ClickHouse")
	t.Setenv("SERVER_AUTO_MIGRATE", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if !cfg.Server.AutoMigrate {
		t.Error("Server.AutoMigrate = false, want true")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Dispatch.MaxWait != 30*time.Second {
		t.Errorf("Dispatch.MaxWait = %v, want %v", cfg.Dispatch.MaxWait, 30*time.Second)
	}
	if cfg.Dispatch.MaxAttempts != 4 || cfg.Dispatch.ConversationAttempts != 3 {
		t.Errorf("Dispatch attempts = %d/%d, want 4/3", cfg.Dispatch.MaxAttempts, cfg.Dispatch.ConversationAttempts)
	}
	if cfg.Stores.EventLog != "clickhouse" {
		t.Errorf("Stores.EventLog = %v, want clickhouse", cfg.Stores.EventLog)
	}
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("CREDIT_BACKEND", "mongo")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() error = nil, want invalid backend error")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Dispatch: DispatchConfig{CostPerDeliveryCents: 1, StatsTimezone: "UTC"},
			Stores:   StoresConfig{EventLog: "memory", Credit: "memory", Accounts: "memory"},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg := valid()
	cfg.Dispatch.CostPerDeliveryCents = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted zero cost")
	}

	cfg = valid()
	cfg.Dispatch.StatsTimezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted unknown timezone")
	}

	cfg = valid()
	if cfg.NeedsPostgres() {
		t.Error("NeedsPostgres() = true for memory backends")
	}
	cfg.Stores.Accounts = "postgres"
	if !cfg.NeedsPostgres() {
		t.Error("NeedsPostgres() = false with postgres accounts")
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: "5432", Database: "dispatch", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/dispatch?sslmode=disable"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_BOOL_INVALID", "maybe")

	if !getEnvAsBool("TEST_BOOL", false) {
		t.Error("getEnvAsBool() = false, want true")
	}
	if !getEnvAsBool("TEST_BOOL_INVALID", true) {
		t.Error("getEnvAsBool() ignored default for invalid value")
	}
	if getEnvAsBool("TEST_BOOL_NOTSET", false) {
		t.Error("getEnvAsBool() = true, want default false")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
