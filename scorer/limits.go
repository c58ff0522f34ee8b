package scorer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rexbrahh/amm-arb/costmodel"
	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/pool"
)

const lamportsPerSOL = 1_000_000_000

// RiskLimits parameterises one scan. Former bot variants are named presets
// of this struct.
type RiskLimits struct {
	// HomeMint is the mint the wallet balance is held in; every route starts
	// and ends on it.
	HomeMint pool.Address `yaml:"home_mint"`

	MinProfitBps       uint64 `yaml:"min_profit_bps"`
	MinTradeSize       uint64 `yaml:"min_trade_size"`
	MaxTradeSize       uint64 `yaml:"max_trade_size"`
	MaxRouteComplexity int    `yaml:"max_route_complexity"`

	// LiquidityDivisor caps the trade at smallestReserve/LiquidityDivisor.
	LiquidityDivisor uint64 `yaml:"liquidity_divisor"`
	// MinLiquidity is the absolute reserve floor for every leg.
	MinLiquidity uint64 `yaml:"min_liquidity"`

	BalanceFractionCap     float64 `yaml:"balance_fraction_cap"`
	ConservativeMultiplier float64 `yaml:"conservative_multiplier"`

	StalenessWindow    time.Duration `yaml:"staleness_window"`
	StaleFactor        float64       `yaml:"stale_factor"`
	LiquidityThreshold uint64        `yaml:"liquidity_threshold"`
	LowLiquidityFactor float64       `yaml:"low_liquidity_factor"`
	ThreeLegFactor     float64       `yaml:"three_leg_factor"`
	MinConfidence      float64       `yaml:"min_confidence"`

	// MaxDailyTrades and StopLoss are enforced by the engine before
	// handing an opportunity to execution. Zero disables the guard.
	MaxDailyTrades int    `yaml:"max_daily_trades"`
	StopLoss       uint64 `yaml:"stop_loss"`

	Fees costmodel.FeeConfig `yaml:"fees"`
}

// Expert targets competitive mainnet execution: 30 bps minimum, 1-100 SOL
// trades and a high priority fee.
func Expert() RiskLimits {
	return RiskLimits{
		HomeMint:               pool.MustParseAddress(common.MintSOL),
		MinProfitBps:           30,
		MinTradeSize:           1 * lamportsPerSOL,
		MaxTradeSize:           100 * lamportsPerSOL,
		MaxRouteComplexity:     3,
		LiquidityDivisor:       20,
		MinLiquidity:           1 * lamportsPerSOL,
		BalanceFractionCap:     0.8,
		ConservativeMultiplier: 0.25,
		StalenessWindow:        500 * time.Millisecond,
		StaleFactor:            0.5,
		LiquidityThreshold:     100 * lamportsPerSOL,
		LowLiquidityFactor:     0.7,
		ThreeLegFactor:         0.85,
		Fees: costmodel.FeeConfig{
			NetworkFee:  costmodel.DefaultNetworkFee,
			PriorityFee: 1_000_000,
		},
	}
}

// Conservative trades small sizes under a daily trade cap and stop loss.
func Conservative() RiskLimits {
	l := Expert()
	l.MinProfitBps = 10
	l.MinTradeSize = lamportsPerSOL / 10
	l.MaxTradeSize = 1 * lamportsPerSOL
	l.MinConfidence = 0.9
	l.MaxDailyTrades = 50
	l.StopLoss = lamportsPerSOL / 2
	l.Fees.PriorityFee = 50_000
	return l
}

// Devnet restricts routing to two legs with tiny sizes and relaxed freshness.
func Devnet() RiskLimits {
	l := Expert()
	l.MinProfitBps = 5
	l.MinTradeSize = lamportsPerSOL / 100
	l.MaxTradeSize = lamportsPerSOL / 10
	l.MaxRouteComplexity = 2
	l.MinLiquidity = lamportsPerSOL / 10
	l.StalenessWindow = 2 * time.Second
	l.Fees.PriorityFee = 0
	return l
}

// Preset resolves a preset by name.
func Preset(name string) (RiskLimits, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "expert":
		return Expert(), nil
	case "conservative":
		return Conservative(), nil
	case "devnet":
		return Devnet(), nil
	default:
		return RiskLimits{}, fmt.Errorf("unknown risk preset %q", name)
	}
}

// Validate reports limits that would make sizing or scoring meaningless.
func (l RiskLimits) Validate() error {
	var errs []error
	if l.HomeMint.IsZero() {
		errs = append(errs, errors.New("home_mint must be set"))
	}
	if l.MaxTradeSize == 0 {
		errs = append(errs, errors.New("max_trade_size must be positive"))
	}
	if l.MinTradeSize > l.MaxTradeSize {
		errs = append(errs, fmt.Errorf("min_trade_size %d exceeds max_trade_size %d", l.MinTradeSize, l.MaxTradeSize))
	}
	if l.MaxRouteComplexity < 2 || l.MaxRouteComplexity > 3 {
		errs = append(errs, fmt.Errorf("max_route_complexity must be 2 or 3, got %d", l.MaxRouteComplexity))
	}
	if l.LiquidityDivisor == 0 {
		errs = append(errs, errors.New("liquidity_divisor must be positive"))
	}
	if l.BalanceFractionCap <= 0 || l.BalanceFractionCap > 1 {
		errs = append(errs, fmt.Errorf("balance_fraction_cap must be in (0,1], got %v", l.BalanceFractionCap))
	}
	if l.ConservativeMultiplier <= 0 || l.ConservativeMultiplier > 1 {
		errs = append(errs, fmt.Errorf("conservative_multiplier must be in (0,1], got %v", l.ConservativeMultiplier))
	}
	for name, f := range map[string]float64{
		"stale_factor":         l.StaleFactor,
		"low_liquidity_factor": l.LowLiquidityFactor,
		"three_leg_factor":     l.ThreeLegFactor,
		"min_confidence":       l.MinConfidence,
	} {
		if f < 0 || f > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", name, f))
		}
	}
	return errors.Join(errs...)
}
