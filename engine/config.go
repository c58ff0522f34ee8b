package engine

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/ingestor/poller"
	"github.com/rexbrahh/amm-arb/scorer"
)

const (
	envConfigPath   = "ARB_CONFIG"
	envPreset       = "ARB_PRESET"
	envScanInterval = "ARB_SCAN_INTERVAL"
	envFeeRefresh   = "ARB_FEE_REFRESH_INTERVAL"
	envExecute      = "ARB_EXECUTE"
	envPaper        = "ARB_PAPER"
	envPaperBalance = "ARB_PAPER_BALANCE"
	envTopN         = "ARB_TOP_N"
)

// Config is the engine's runtime configuration. Limits start from the named
// preset; keys present under `limits` in the file override it.
type Config struct {
	Preset             string                `yaml:"preset"`
	Limits             scorer.RiskLimits     `yaml:"limits"`
	Poller             poller.Config         `yaml:"poller"`
	Execution          execution.Config      `yaml:"execution"`
	Mints              []common.MintMetadata `yaml:"mints"`
	ScanInterval       time.Duration         `yaml:"scan_interval"`
	FeeRefreshInterval time.Duration         `yaml:"fee_refresh_interval"`
	// Execute hands the best opportunity of each scan to the coordinator.
	Execute bool `yaml:"execute"`
	// Paper routes execution through the simulated wallet. Defaults to true.
	Paper        bool   `yaml:"paper"`
	PaperBalance uint64 `yaml:"paper_balance"`
	// TopN caps the opportunities cached and published per scan. Zero keeps all.
	TopN int `yaml:"top_n"`
	// PreferShortRoutes ranks 2-leg routes ahead of 3-leg ones before TopN.
	PreferShortRoutes bool `yaml:"prefer_short_routes"`
}

// DefaultConfig returns the Expert preset in paper mode with execution off.
func DefaultConfig() Config {
	return Config{
		Preset:             "expert",
		Limits:             scorer.Expert(),
		Poller:             poller.DefaultConfig(),
		Execution:          execution.DefaultConfig(),
		ScanInterval:       time.Second,
		FeeRefreshInterval: 30 * time.Second,
		Paper:              true,
		PaperBalance:       10_000_000_000,
		TopN:               20,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limits: %w", err))
	}
	if err := c.Poller.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("poller: %w", err))
	}
	if err := c.Execution.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("execution: %w", err))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("scan_interval must be positive"))
	}
	if c.FeeRefreshInterval < 0 {
		errs = append(errs, errors.New("fee_refresh_interval must not be negative"))
	}
	if c.TopN < 0 {
		errs = append(errs, errors.New("top_n must not be negative"))
	}
	for _, m := range c.Mints {
		if m.Address == "" {
			errs = append(errs, errors.New("mint entry without address"))
		}
	}
	return errors.Join(errs...)
}

// MintMetadata returns the built-in mint table extended with configured mints.
func (c Config) MintMetadata() *common.InMemoryMintMetadataProvider {
	provider := common.NewInMemoryMintMetadataProvider()
	for _, m := range c.Mints {
		m := m
		provider.AddMintMetadata(&m)
	}
	return provider
}

// LoadConfig reads the YAML file at path (skipped when empty) and applies
// environment overrides. Poller and execution settings also honour their
// own package variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv(envPreset); v != "" && v != cfg.Preset {
		limits, err := scorer.Preset(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPreset, err)
		}
		cfg.Preset = v
		cfg.Limits = limits
	}
	if v := os.Getenv(envScanInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envScanInterval, err)
		}
		cfg.ScanInterval = d
	}
	if v := os.Getenv(envFeeRefresh); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envFeeRefresh, err)
		}
		cfg.FeeRefreshInterval = d
	}
	if v := os.Getenv(envExecute); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envExecute, err)
		}
		cfg.Execute = b
	}
	if v := os.Getenv(envPaper); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPaper, err)
		}
		cfg.Paper = b
	}
	if v := os.Getenv(envPaperBalance); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPaperBalance, err)
		}
		cfg.PaperBalance = n
	}
	if v := os.Getenv(envTopN); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envTopN, err)
		}
		cfg.TopN = n
	}

	if len(cfg.Poller.Pools) == 0 {
		if pc, err := poller.FromEnv(); err == nil {
			cfg.Poller = pc
		}
	}

	return cfg, cfg.Validate()
}

// ConfigPathFromEnv returns the config file named by ARB_CONFIG.
func ConfigPathFromEnv() string {
	return os.Getenv(envConfigPath)
}

func decodeConfig(data []byte, cfg *Config) error {
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if head.Preset != "" {
		limits, err := scorer.Preset(head.Preset)
		if err != nil {
			return err
		}
		cfg.Preset = head.Preset
		cfg.Limits = limits
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
