// Package costmodel estimates the full execution cost of a route in units of
// the route's home mint.
package costmodel

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/swapmath"
)

// DefaultNetworkFee is the Solana base fee per signature in lamports.
const DefaultNetworkFee = 5_000

// FeeConfig carries the per-transaction fees a route pays.
type FeeConfig struct {
	NetworkFee  uint64 `yaml:"network_fee" json:"network_fee"`
	PriorityFee uint64 `yaml:"priority_fee" json:"priority_fee"`
	// Bundle submits every leg in one transaction.
	Bundle bool `yaml:"bundle" json:"bundle"`
}

// DefaultFeeConfig returns the base network fee with no priority fee.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{NetworkFee: DefaultNetworkFee}
}

// Transactions is the number of transactions a route of legs legs needs.
func (c FeeConfig) Transactions(legs int) uint64 {
	if legs <= 0 {
		return 0
	}
	if c.Bundle {
		return 1
	}
	return uint64(legs)
}

// FeeOracle supplies live network and priority fee estimates.
type FeeOracle interface {
	Fees(ctx context.Context) (network, priority uint64, err error)
}

// StaticFeeOracle returns fixed fees.
type StaticFeeOracle struct {
	Network  uint64
	Priority uint64
}

func (o StaticFeeOracle) Fees(context.Context) (uint64, uint64, error) {
	return o.Network, o.Priority, nil
}

// Refresh returns a copy of c with fees taken from oracle. Fees are lamports
// per transaction; a zero reported by the oracle keeps the configured value.
func (c FeeConfig) Refresh(ctx context.Context, oracle FeeOracle) (FeeConfig, error) {
	if oracle == nil {
		return c, nil
	}
	network, priority, err := oracle.Fees(ctx)
	if err != nil {
		return c, fmt.Errorf("fee oracle: %w", err)
	}
	out := c
	if network > 0 {
		out.NetworkFee = network
	}
	if priority > 0 {
		out.PriorityFee = priority
	}
	return out, nil
}

// Breakdown is the cost of executing a route, in the home mint's smallest
// unit.
type Breakdown struct {
	NetworkFee      uint64 `json:"network_fee"`
	PriorityFee     uint64 `json:"priority_fee"`
	VenueFees       uint64 `json:"venue_fees"`
	PriceImpactCost uint64 `json:"price_impact_cost"`
	Total           uint64 `json:"total"`
}

var errEmptyRoute = errors.New("costmodel: no legs")

// Estimate prices a trade of tradeSize through legs. The amount entering each
// leg is simulated with the same fee-on-input rule the scorer uses; venue fees
// are charged on that amount valued back in home units at the preceding
// legs' spot rates.
func Estimate(tradeSize uint64, legs []route.Leg, cfg FeeConfig) (Breakdown, error) {
	if len(legs) == 0 {
		return Breakdown{}, errEmptyRoute
	}

	var b Breakdown
	var err error
	txs := cfg.Transactions(len(legs))
	if b.NetworkFee, err = swapmath.MulChecked(cfg.NetworkFee, txs); err != nil {
		return Breakdown{}, err
	}
	if b.PriorityFee, err = swapmath.MulChecked(cfg.PriorityFee, txs); err != nil {
		return Breakdown{}, err
	}

	amount := tradeSize
	// homePerUnit converts one unit of the current leg's input mint into home
	// units.
	homePerUnit := 1.0
	for i, leg := range legs {
		legFee, err := swapmath.MulBps(amount, uint64(leg.Pool.FeeBps))
		if err != nil {
			return Breakdown{}, err
		}
		homeFee, err := toUnits(float64(legFee) * homePerUnit)
		if err != nil {
			return Breakdown{}, err
		}
		if b.VenueFees, err = swapmath.AddChecked(b.VenueFees, homeFee); err != nil {
			return Breakdown{}, err
		}

		impact := swapmath.PriceImpact(leg.Pool, amount, leg.AToB)
		impactCost, err := toUnits(float64(tradeSize) * impact / 100)
		if err != nil {
			return Breakdown{}, err
		}
		if b.PriceImpactCost, err = swapmath.AddChecked(b.PriceImpactCost, impactCost); err != nil {
			return Breakdown{}, err
		}

		if i == len(legs)-1 {
			break
		}
		out, err := swapmath.Swap(leg.Pool, amount, leg.AToB)
		if err != nil {
			return Breakdown{}, err
		}
		if rate := swapmath.SpotRate(leg.Pool, leg.AToB); rate > 0 {
			homePerUnit /= rate
		}
		amount = out
	}

	total := b.NetworkFee
	for _, part := range []uint64{b.PriorityFee, b.VenueFees, b.PriceImpactCost} {
		if total, err = swapmath.AddChecked(total, part); err != nil {
			return Breakdown{}, err
		}
	}
	b.Total = total
	return b, nil
}

func toUnits(v float64) (uint64, error) {
	if math.IsNaN(v) || v < 0 {
		return 0, nil
	}
	if v >= math.MaxUint64 {
		return 0, swapmath.ErrOverflow
	}
	return uint64(v), nil
}
