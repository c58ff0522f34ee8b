package costmodel

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/swapmath"
)

func mint(b byte) pool.Address {
	var a pool.Address
	a[31] = b
	return a
}

func roundTrip(reserve uint64, fee uint16) []route.Leg {
	p1 := pool.State{Address: mint(10), MintA: mint(1), MintB: mint(2), ReserveA: reserve, ReserveB: reserve, FeeBps: fee}
	p2 := pool.State{Address: mint(11), MintA: mint(2), MintB: mint(1), ReserveA: reserve, ReserveB: reserve, FeeBps: fee}
	return []route.Leg{{Pool: p1, AToB: true}, {Pool: p2, AToB: true}}
}

func TestEstimateTransactionFees(t *testing.T) {
	legs := roundTrip(1_000_000_000_000, 25)

	cfg := FeeConfig{NetworkFee: 5_000, PriorityFee: 1_000}
	b, err := Estimate(1_000_000_000, legs, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), b.NetworkFee)
	assert.Equal(t, uint64(2_000), b.PriorityFee)

	cfg.Bundle = true
	b, err = Estimate(1_000_000_000, legs, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), b.NetworkFee)
	assert.Equal(t, uint64(1_000), b.PriorityFee)
}

func TestEstimateVenueAndImpact(t *testing.T) {
	legs := roundTrip(1_000_000_000_000, 25)
	size := uint64(1_000_000_000)

	b, err := Estimate(size, legs, DefaultFeeConfig())
	require.NoError(t, err)

	// 25 bps on the full size, then 25 bps on roughly 0.9965 of it.
	assert.InDelta(t, 2_500_000+2_491_000, float64(b.VenueFees), 5_000)

	// each leg: ~0.25% fee plus ~0.1% slippage against spot
	assert.InDelta(t, 0.0070*float64(size), float64(b.PriceImpactCost), 0.0001*float64(size))

	assert.Equal(t, b.NetworkFee+b.PriorityFee+b.VenueFees+b.PriceImpactCost, b.Total)
}

func TestEstimateZeroFees(t *testing.T) {
	legs := roundTrip(1_000_000_000_000, 0)
	b, err := Estimate(1_000_000, legs, FeeConfig{})
	require.NoError(t, err)
	assert.Zero(t, b.VenueFees)
	assert.Zero(t, b.NetworkFee)
}

func TestEstimateDegeneratePoolChargesFullImpact(t *testing.T) {
	legs := roundTrip(1_000_000, 25)
	legs[1].Pool.ReserveA = 0

	b, err := Estimate(1_000, legs, FeeConfig{})
	require.NoError(t, err)
	// second leg cannot trade: impact 100% of trade size
	assert.GreaterOrEqual(t, b.PriceImpactCost, uint64(1_000))
}

func TestEstimateOverflow(t *testing.T) {
	legs := roundTrip(1_000_000, 25)

	_, err := Estimate(1_000, legs, FeeConfig{NetworkFee: math.MaxUint64})
	assert.ErrorIs(t, err, swapmath.ErrOverflow)

	_, err = Estimate(1_000, legs, FeeConfig{NetworkFee: math.MaxUint64 / 2, PriorityFee: math.MaxUint64 / 2})
	assert.ErrorIs(t, err, swapmath.ErrOverflow)
}

func TestEstimateNoLegs(t *testing.T) {
	_, err := Estimate(1, nil, DefaultFeeConfig())
	assert.Error(t, err)
}

type failingOracle struct{}

func (failingOracle) Fees(context.Context) (uint64, uint64, error) {
	return 0, 0, errors.New("rpc down")
}

func TestRefresh(t *testing.T) {
	cfg := DefaultFeeConfig()

	got, err := cfg.Refresh(context.Background(), StaticFeeOracle{Network: 0, Priority: 7_500})
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultNetworkFee), got.NetworkFee)
	assert.Equal(t, uint64(7_500), got.PriorityFee)

	configured := FeeConfig{NetworkFee: DefaultNetworkFee, PriorityFee: 1_000_000}
	got, err = configured.Refresh(context.Background(), StaticFeeOracle{})
	require.NoError(t, err)
	assert.Equal(t, configured, got, "quiet oracle keeps configured fees")

	got, err = cfg.Refresh(context.Background(), failingOracle{})
	require.Error(t, err)
	assert.Equal(t, cfg, got)

	got, err = cfg.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
