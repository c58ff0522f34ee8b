package chain

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	envRPCURL        = "ARB_RPC_URL"
	envWallet        = "ARB_WALLET"
	envCommitment    = "ARB_RPC_COMMITMENT"
	envMaxRetries    = "ARB_RPC_MAX_RETRIES"
	envRetryBackoff  = "ARB_RPC_RETRY_BACKOFF"
	envRequestTimout = "ARB_RPC_TIMEOUT"
	envPollInterval  = "ARB_RPC_CONFIRM_POLL"
	envComputeUnits  = "ARB_RPC_COMPUTE_UNITS"

	// maxAccountsPerRequest is the getMultipleAccounts limit.
	maxAccountsPerRequest = 100
	// maxComputeUnits is the per-transaction compute budget ceiling.
	maxComputeUnits = 1_400_000
)

// Config controls the RPC adapter.
type Config struct {
	Endpoint            string        `yaml:"endpoint"`
	Wallet              string        `yaml:"wallet"`
	Commitment          string        `yaml:"commitment"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryBackoffBase    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax     time.Duration `yaml:"retry_backoff_max"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`
	BatchSize           int           `yaml:"batch_size"`
	// ComputeUnitLimit is the compute budget requested per swap transaction.
	// Priority fees quoted per compute unit are priced against it.
	ComputeUnitLimit uint32 `yaml:"compute_unit_limit"`
}

// DefaultConfig returns mainnet-friendly defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:            "https://api.mainnet-beta.solana.com",
		Commitment:          "confirmed",
		RequestTimeout:      10 * time.Second,
		MaxRetries:          3,
		RetryBackoffBase:    200 * time.Millisecond,
		RetryBackoffMax:     3 * time.Second,
		ConfirmPollInterval: 400 * time.Millisecond,
		BatchSize:           maxAccountsPerRequest,
		ComputeUnitLimit:    200_000,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("unsupported commitment %q", c.Commitment)
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if c.BatchSize <= 0 || c.BatchSize > maxAccountsPerRequest {
		return fmt.Errorf("batch size must be within 1..%d", maxAccountsPerRequest)
	}
	if c.ConfirmPollInterval <= 0 {
		return errors.New("confirm poll interval must be positive")
	}
	if c.ComputeUnitLimit == 0 || c.ComputeUnitLimit > maxComputeUnits {
		return fmt.Errorf("compute unit limit must be within 1..%d", maxComputeUnits)
	}
	return nil
}

// FromEnv overlays environment overrides onto DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(envRPCURL); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv(envWallet); v != "" {
		cfg.Wallet = v
	}
	if v := os.Getenv(envCommitment); v != "" {
		cfg.Commitment = v
	}
	if v := os.Getenv(envMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envMaxRetries, err)
		}
		cfg.MaxRetries = n
	}
	if v := os.Getenv(envComputeUnits); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envComputeUnits, err)
		}
		cfg.ComputeUnitLimit = uint32(n)
	}
	for env, dst := range map[string]*time.Duration{
		envRetryBackoff:  &cfg.RetryBackoffBase,
		envRequestTimout: &cfg.RequestTimeout,
		envPollInterval:  &cfg.ConfirmPollInterval,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = d
	}
	return cfg, cfg.Validate()
}
