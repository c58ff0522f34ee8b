package scorer

import (
	"math"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/swapmath"
)

const (
	// homeUnitUSD approximates the USD value of one whole home-mint token
	// (SOL at ~$200) when tiering success probability.
	homeUnitUSD      = 200.0
	homeUnitDecimals = 9
	expectedLossPct  = 0.5
	profitRetention  = 0.6
)

// Divergence is the fee-free round-trip gain of the route in percent, from
// the product of every leg's spot rate. Negative when the cycle loses at
// spot.
func Divergence(r route.Route) float64 {
	product := 1.0
	for _, leg := range r.Legs {
		rate := swapmath.SpotRate(leg.Pool, leg.AToB)
		if rate == 0 {
			return -100
		}
		product *= rate
	}
	return (product - 1) * 100
}

// SuccessProbability tiers the estimated fill probability by divergence (%)
// and shallowest-leg liquidity (USD).
func SuccessProbability(divergencePct, liquidityUSD float64) float64 {
	switch {
	case divergencePct > 1.0 && liquidityUSD > 10_000:
		return 0.85
	case divergencePct > 0.5 && liquidityUSD > 5_000:
		return 0.65
	case divergencePct > 0.3 && liquidityUSD > 1_000:
		return 0.45
	default:
		return 0.15
	}
}

// KellyFraction returns (p*gain - (1-p)*loss) / gain, or 0 when the
// expected gain is not positive.
func KellyFraction(p, expectedGain, expectedLoss float64) float64 {
	if expectedGain <= 0 {
		return 0
	}
	return (p*expectedGain - (1-p)*expectedLoss) / expectedGain
}

// TradeSize sizes a route for walletBalance. The smallest-reserve cap is
// applied last and is never exceeded, even when it falls below MinTradeSize.
func TradeSize(r route.Route, walletBalance uint64, limits RiskLimits) uint64 {
	div := Divergence(r)
	smallest := r.SmallestReserve()
	p := SuccessProbability(div, common.ScaleAmount(smallest, homeUnitDecimals)*homeUnitUSD)
	kelly := KellyFraction(p, div*profitRetention, expectedLossPct)

	frac := clamp01(kelly * limits.ConservativeMultiplier)
	raw := limits.BalanceFractionCap * float64(walletBalance) * frac

	size := uint64(0)
	if raw > 0 && !math.IsNaN(raw) {
		if raw >= math.MaxUint64 {
			size = math.MaxUint64
		} else {
			size = uint64(raw)
		}
	}
	if size < limits.MinTradeSize {
		size = limits.MinTradeSize
	}
	if limits.MaxTradeSize > 0 && size > limits.MaxTradeSize {
		size = limits.MaxTradeSize
	}

	divisor := limits.LiquidityDivisor
	if divisor == 0 {
		divisor = 20
	}
	if liquidityCap := smallest / divisor; size > liquidityCap {
		size = liquidityCap
	}
	return size
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
