package execution

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	envMaxRetries    = "ARB_EXEC_MAX_RETRIES"
	envLegTimeout    = "ARB_EXEC_LEG_TIMEOUT"
	envRetryBackoff  = "ARB_EXEC_RETRY_BACKOFF"
	envSlippageBps   = "ARB_EXEC_SLIPPAGE_BPS"
	envLossTolerance = "ARB_EXEC_LOSS_TOLERANCE"
	envLockTTL       = "ARB_EXEC_LOCK_TTL"
)

// Config tunes the execution coordinator.
type Config struct {
	MaxRetries       int           `yaml:"max_retries"`
	LegTimeout       time.Duration `yaml:"leg_timeout"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	SlippageBps      uint16        `yaml:"slippage_bps"`
	// LossTolerance is the fraction of trade size the cumulative home-mint
	// delta may fall below zero before the run aborts.
	LossTolerance float64       `yaml:"loss_tolerance"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		LegTimeout:       30 * time.Second,
		RetryBackoffBase: 250 * time.Millisecond,
		RetryBackoffMax:  5 * time.Second,
		SlippageBps:      150,
		LossTolerance:    0.001,
		LockTTL:          2 * time.Minute,
	}
}

// Validate checks the config for obvious mistakes.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if c.LegTimeout <= 0 {
		return errors.New("leg timeout must be positive")
	}
	if c.SlippageBps > 10_000 {
		return errors.New("slippage bps must be <= 10000")
	}
	if c.LossTolerance < 0 || c.LossTolerance > 1 {
		return errors.New("loss tolerance must be within [0,1]")
	}
	return nil
}

// FromEnv overlays environment overrides onto DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(envMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envMaxRetries, err)
		}
		cfg.MaxRetries = n
	}
	if v := os.Getenv(envLegTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envLegTimeout, err)
		}
		cfg.LegTimeout = d
	}
	if v := os.Getenv(envRetryBackoff); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envRetryBackoff, err)
		}
		cfg.RetryBackoffBase = d
	}
	if v := os.Getenv(envSlippageBps); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envSlippageBps, err)
		}
		cfg.SlippageBps = uint16(n)
	}
	if v := os.Getenv(envLossTolerance); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envLossTolerance, err)
		}
		cfg.LossTolerance = f
	}
	if v := os.Getenv(envLockTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envLockTTL, err)
		}
		cfg.LockTTL = d
	}

	return cfg, cfg.Validate()
}
