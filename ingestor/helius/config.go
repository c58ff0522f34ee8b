package helius

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rexbrahh/amm-arb/ingestor/geyser"
)

const (
	defaultBackoff    = 5 * time.Second
	defaultCommitment = "confirmed"

	envHeliusGRPC       = "ARB_HELIUS_GRPC"
	envHeliusAPIKey     = "ARB_HELIUS_API_KEY"
	envHeliusBackoffMS  = "ARB_HELIUS_BACKOFF_MS"
	envHeliusCommitment = "ARB_HELIUS_COMMITMENT"
)

// Config captures the runtime parameters required to connect to the Helius
// LaserStream endpoint.
type Config struct {
	GRPCEndpoint string
	APIKey       string
	Commitment   string

	ReconnectBackoff time.Duration
	Filter           geyser.Filter
}

// DefaultConfig returns a Config populated with sensible defaults. Endpoint
// and API key remain empty because they are environment-specific.
func DefaultConfig() *Config {
	return &Config{
		Commitment:       defaultCommitment,
		ReconnectBackoff: defaultBackoff,
		Filter:           geyser.DefaultFilter(),
	}
}

// Validate ensures critical fields are present and durations fall within sane
// bounds.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var missing []string
	if c.GRPCEndpoint == "" {
		missing = append(missing, "GRPCEndpoint")
	}
	if c.APIKey == "" {
		missing = append(missing, "APIKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required Helius config fields: %v", missing)
	}

	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("invalid ReconnectBackoff: %s", c.ReconnectBackoff)
	}
	return c.Filter.Validate()
}

// FromEnv builds a Config from the canonical environment variables and applies
// defaults for optional settings.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.GRPCEndpoint = os.Getenv(envHeliusGRPC)
	cfg.APIKey = os.Getenv(envHeliusAPIKey)
	if v := os.Getenv(envHeliusCommitment); v != "" {
		cfg.Commitment = v
	}

	if v := os.Getenv(envHeliusBackoffMS); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.ReconnectBackoff = time.Duration(ms) * time.Millisecond
		} else if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envHeliusBackoffMS, err)
		}
	}

	return cfg, cfg.Validate()
}
