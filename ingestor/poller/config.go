package poller

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rexbrahh/amm-arb/pool"
)

const (
	envPools       = "ARB_POOLS"
	envInterval    = "ARB_POLL_INTERVAL"
	envBatchSize   = "ARB_POLL_BATCH_SIZE"
	envConcurrency = "ARB_POLL_CONCURRENCY"
)

// Config captures runtime parameters for the pool refresh loop.
type Config struct {
	Pools       []string      `yaml:"pools"`
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

// DefaultConfig sets safe defaults for optional fields.
func DefaultConfig() Config {
	return Config{
		Interval:    400 * time.Millisecond,
		BatchSize:   100,
		Concurrency: 4,
	}
}

// Validate ensures the pool list, batch size and worker budget are sane.
func (c Config) Validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool address is required")
	}
	for _, p := range c.Pools {
		if _, err := pool.ParseAddress(p); err != nil {
			return fmt.Errorf("pool %q: %w", p, err)
		}
	}
	if c.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}

// Addresses parses the configured pools, dropping duplicates.
func (c Config) Addresses() ([]pool.Address, error) {
	seen := make(map[pool.Address]struct{}, len(c.Pools))
	out := make([]pool.Address, 0, len(c.Pools))
	for _, p := range c.Pools {
		addr, err := pool.ParseAddress(p)
		if err != nil {
			return nil, fmt.Errorf("pool %q: %w", p, err)
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(envPools); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Pools = append(cfg.Pools, p)
			}
		}
	}
	if v := os.Getenv(envInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envInterval, err)
		}
		cfg.Interval = d
	}
	if v := os.Getenv(envBatchSize); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envBatchSize, err)
		}
		cfg.BatchSize = size
	}
	if v := os.Getenv(envConcurrency); v != "" {
		conc, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envConcurrency, err)
		}
		cfg.Concurrency = conc
	}

	return cfg, cfg.Validate()
}
