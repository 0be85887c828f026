// Package ratelimit decides whether an account may send right now and applies
// cooldown penalties after risky transport failures.
package ratelimit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dispatch-orchestrator/internal/logging"
)

// Default configuration values for the per-account limiter.
const (
	DefaultWindow           = 60 * time.Second
	DefaultCooldownBase     = 8 * time.Minute
	DefaultCooldownStep     = time.Minute
	DefaultCooldownMaxExtra = 10 * time.Minute
	DefaultRampFloor        = 0.35
)

// Environment variable names for limiter configuration.
const (
	EnvWindow           = "LIMITER_WINDOW"
	EnvCooldownBase     = "LIMITER_COOLDOWN_BASE"
	EnvCooldownStep     = "LIMITER_COOLDOWN_STEP"
	EnvCooldownMaxExtra = "LIMITER_COOLDOWN_MAX_EXTRA"
)

// Config holds the limiter's timing constants.
type Config struct {
	// Window is the sliding window length.
	// Environment: LIMITER_WINDOW, Default: 60s
	Window time.Duration

	// CooldownBase is the fixed part of a risky-error cooldown.
	// Environment: LIMITER_COOLDOWN_BASE, Default: 8m
	CooldownBase time.Duration

	// CooldownStep is added per consecutive error.
	// Environment: LIMITER_COOLDOWN_STEP, Default: 1m
	CooldownStep time.Duration

	// CooldownMaxExtra caps the escalating part.
	// Environment: LIMITER_COOLDOWN_MAX_EXTRA, Default: 10m
	CooldownMaxExtra time.Duration

	// RampFloor is the fraction of the per-minute cap allowed at warm-up start.
	RampFloor float64
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Window:           DefaultWindow,
		CooldownBase:     DefaultCooldownBase,
		CooldownStep:     DefaultCooldownStep,
		CooldownMaxExtra: DefaultCooldownMaxExtra,
		RampFloor:        DefaultRampFloor,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Invalid values are logged and the default is kept.
func LoadFromEnv(logger *logging.Logger) *Config {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	cfg := NewConfig()

	load := func(key string, dst *time.Duration) {
		raw := os.Getenv(key)
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			logger.WithField("env", key).Warnf("Invalid duration %q, using default %s", raw, *dst)
			return
		}
		*dst = d
	}
	load(EnvWindow, &cfg.Window)
	load(EnvCooldownBase, &cfg.CooldownBase)
	load(EnvCooldownStep, &cfg.CooldownStep)
	load(EnvCooldownMaxExtra, &cfg.CooldownMaxExtra)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Warn("Limiter configuration invalid, using defaults")
		return NewConfig()
	}
	return cfg
}

// Validate ensures configuration is valid.
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("Window must be positive")
	}
	if c.CooldownBase <= 0 {
		return errors.New("CooldownBase must be positive")
	}
	if c.CooldownStep < 0 {
		return errors.New("CooldownStep cannot be negative")
	}
	if c.CooldownMaxExtra < 0 {
		return errors.New("CooldownMaxExtra cannot be negative")
	}
	if c.RampFloor <= 0 || c.RampFloor > 1 {
		return fmt.Errorf("RampFloor must be in (0, 1], got %v", c.RampFloor)
	}
	return nil
}

// String returns a string representation of the configuration for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Window: %s, CooldownBase: %s, CooldownStep: %s, CooldownMaxExtra: %s, RampFloor: %.2f}",
		c.Window, c.CooldownBase, c.CooldownStep, c.CooldownMaxExtra, c.RampFloor,
	)
}
