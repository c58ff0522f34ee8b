package helius

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/ingestor/geyser"
)

// NewStreamClient builds a LaserStream account stream usable as the fallback
// of a geyser.FailoverService. LaserStream speaks the Yellowstone protocol and
// authenticates with an x-api-key header.
func NewStreamClient(cfg *Config, logger *zap.Logger) (*geyser.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid helius config: %w", err)
	}
	return geyser.NewStreamClient(geyser.StreamOptions{
		Name:             "helius",
		Endpoint:         cfg.GRPCEndpoint,
		AuthHeader:       "x-api-key",
		APIKey:           cfg.APIKey,
		Commitment:       cfg.Commitment,
		ReconnectBackoff: cfg.ReconnectBackoff,
		Filter:           cfg.Filter,
	}, logger)
}
