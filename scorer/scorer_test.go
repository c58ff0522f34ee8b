package scorer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/amm-arb/costmodel"
	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
)

var (
	sol  = pool.MustParseAddress(common.MintSOL)
	usdc = pool.MustParseAddress(common.MintUSDC)
	ray  = pool.MustParseAddress(common.MintRAY)
	now  = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func poolAt(id byte, a, b pool.Address, ra, rb uint64, observed time.Time) pool.State {
	var addr pool.Address
	addr[0] = id
	return pool.State{
		Address: addr, Venue: pool.VenueRaydiumAMM,
		MintA: a, MintB: b, ReserveA: ra, ReserveB: rb,
		FeeBps: 25, ObservedAt: observed,
	}
}

// triangle builds SOL->USDC->RAY->SOL. A RAY reserve of 52.5e9 in the
// USDC/RAY pool makes the cycle return 5% at spot; 49.75e9 makes it lose 0.5%.
func triangle(rayReserve uint64, observed time.Time) []pool.State {
	return []pool.State{
		poolAt(1, sol, usdc, 1_000_000_000_000, 150_000_000_000, observed),
		poolAt(2, usdc, ray, 100_000_000_000, rayReserve, observed),
		poolAt(3, ray, sol, 50_000_000_000, 666_666_666_667, observed),
	}
}

func testLimits() RiskLimits {
	l := Expert()
	l.MinTradeSize = 100_000_000
	l.MaxTradeSize = 100_000_000_000
	l.Fees = costmodel.FeeConfig{NetworkFee: 5_000}
	return l
}

const wallet = 10_000_000_000

func TestScanProfitableTriangle(t *testing.T) {
	opps, stats := ScanAt(triangle(52_500_000_000, now), wallet, testLimits(), now)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, []pool.Address{sol, usdc, ray, sol}, opp.Route.Mints())
	assert.Greater(t, opp.NetProfit, int64(0))
	assert.Equal(t, opp.GrossProfit-int64(opp.Cost.Total), opp.NetProfit)
	assert.Equal(t, int64(opp.FinalAmount-opp.TradeSize), opp.GrossProfit)
	assert.GreaterOrEqual(t, opp.ProfitBps, uint64(30))
	assert.InDelta(t, 1_183_333_333, float64(opp.TradeSize), 2)
	assert.InDelta(t, 173, float64(opp.ProfitBps), 2)
	assert.InDelta(t, 0.7*0.85, opp.Confidence, 1e-9)
	assert.False(t, opp.Stale)
	assert.Equal(t, uint64(15_000), opp.Cost.NetworkFee)

	require.Len(t, opp.Quotes, 3)
	assert.Equal(t, opp.TradeSize, opp.Quotes[0].AmountIn)
	assert.Equal(t, opp.Quotes[0].ExpectedOut, opp.Quotes[1].AmountIn)
	assert.Equal(t, opp.FinalAmount, opp.Quotes[2].ExpectedOut)

	assert.Equal(t, 2, stats.Routes)
	assert.Equal(t, 1, stats.Opportunities)
	assert.Equal(t, 1, stats.Rejected["unprofitable"])
}

func TestScanUnprofitableTriangle(t *testing.T) {
	opps, stats := ScanAt(triangle(49_750_000_000, now), wallet, testLimits(), now)
	assert.Empty(t, opps)
	assert.Equal(t, 2, stats.Rejected["unprofitable"])
}

func TestScanDoesNotMutatePools(t *testing.T) {
	pools := triangle(52_500_000_000, now)
	before := append([]pool.State(nil), pools...)
	Scan(pools, wallet, testLimits())
	assert.Equal(t, before, pools)
}

func TestScanStaleDataLowersConfidence(t *testing.T) {
	opps, stats := ScanAt(triangle(52_500_000_000, now.Add(-time.Second)), wallet, testLimits(), now)
	require.Len(t, opps, 1)
	assert.True(t, opps[0].Stale)
	assert.InDelta(t, 0.5*0.7*0.85, opps[0].Confidence, 1e-9)
	assert.Equal(t, 1, stats.Stale)
}

func TestScanRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RiskLimits)
		balance uint64
		reason  string
	}{
		{"liquidity floor", func(l *RiskLimits) { l.MinLiquidity = 60_000_000_000 }, wallet, "insufficient_liquidity"},
		{"profit threshold", func(l *RiskLimits) { l.MinProfitBps = 500 }, wallet, "below_profit_threshold"},
		{"min confidence", func(l *RiskLimits) { l.MinConfidence = 0.9 }, wallet, "low_confidence"},
		{"two legs only", func(l *RiskLimits) { l.MaxRouteComplexity = 2 }, wallet, "route_too_complex"},
		{"wallet too small", func(l *RiskLimits) {}, 10_000_000, "insufficient_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := testLimits()
			tt.mutate(&limits)
			opps, stats := ScanAt(triangle(52_500_000_000, now), tt.balance, limits, now)
			assert.Empty(t, opps)
			assert.GreaterOrEqual(t, stats.Rejected[tt.reason], 1, "rejections: %v", stats.Rejected)
		})
	}
}

func TestScanIgnoresOtherHomeMints(t *testing.T) {
	limits := testLimits()
	limits.HomeMint = pool.MustParseAddress(common.MintUSDT)
	opps, stats := ScanAt(triangle(52_500_000_000, now), wallet, limits, now)
	assert.Empty(t, opps)
	assert.Zero(t, stats.Routes)
}

func TestScanTwoLegRanking(t *testing.T) {
	pools := []pool.State{
		poolAt(1, sol, usdc, 1_000_000_000_000, 150_000_000_000, now),
		poolAt(2, usdc, sol, 140_000_000_000, 1_000_000_000_000, now),
		poolAt(3, usdc, sol, 145_000_000_000, 1_000_000_000_000, now),
	}
	opps, _ := ScanAt(pools, wallet, testLimits(), now)
	require.Len(t, opps, 3)
	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].Score(), opps[i].Score())
	}
	// the deeper discount on pool 2 wins
	assert.Equal(t, byte(2), opps[0].Route.Legs[1].Pool.Address[0])
}

func TestTradeSizeNeverExceedsSmallestReserveShare(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	mints := []pool.Address{sol, usdc, ray, pool.MustParseAddress(common.MintUSDT)}
	limits := testLimits()
	limits.MinLiquidity = 0
	limits.MinProfitBps = 0

	for round := 0; round < 50; round++ {
		var pools []pool.State
		for i := 0; i < 8; i++ {
			a := mints[rng.Intn(len(mints))]
			b := mints[rng.Intn(len(mints))]
			if a == b {
				continue
			}
			pools = append(pools, poolAt(byte(i+1), a, b,
				uint64(rng.Int63n(1<<42))+1_000, uint64(rng.Int63n(1<<42))+1_000, now))
		}
		opps, _ := ScanAt(pools, 1<<50, limits, now)
		for _, o := range opps {
			require.LessOrEqual(t, o.TradeSize, o.Route.SmallestReserve()/20)
			require.Greater(t, o.NetProfit, int64(0))
		}
	}
}

func TestTradeSizeCapAppliedLast(t *testing.T) {
	r := route.Route{Legs: []route.Leg{
		{Pool: poolAt(1, sol, usdc, 2_000_000_000, 400_000_000, now), AToB: true},
		{Pool: poolAt(2, usdc, sol, 300_000_000, 2_000_000_000, now), AToB: true},
	}}
	limits := testLimits()
	limits.MinTradeSize = 1_000_000_000

	// min size would be 1 SOL but the shallowest reserve only allows 5%.
	assert.Equal(t, uint64(300_000_000/20), TradeSize(r, wallet, limits))
}

func TestSuccessProbabilityTiers(t *testing.T) {
	tests := []struct {
		div, liq float64
		want     float64
	}{
		{1.5, 20_000, 0.85},
		{1.5, 8_000, 0.65},
		{0.6, 6_000, 0.65},
		{0.4, 2_000, 0.45},
		{0.4, 500, 0.15},
		{0.2, 1e9, 0.15},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SuccessProbability(tt.div, tt.liq), "div=%v liq=%v", tt.div, tt.liq)
	}
}

func TestKellyFraction(t *testing.T) {
	assert.InDelta(t, (0.65*3-0.35*0.5)/3, KellyFraction(0.65, 3, 0.5), 1e-12)
	assert.Zero(t, KellyFraction(0.9, 0, 0.5))
	assert.Less(t, KellyFraction(0.15, 0.1, 0.5), 0.0)
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"expert", "conservative", "devnet", ""} {
		l, err := Preset(name)
		require.NoError(t, err, name)
		require.NoError(t, l.Validate(), name)
	}
	_, err := Preset("yolo")
	assert.Error(t, err)

	c := Conservative()
	assert.Equal(t, uint64(10), c.MinProfitBps)
	assert.Equal(t, 50, c.MaxDailyTrades)
	assert.Equal(t, uint64(500_000_000), c.StopLoss)
	assert.Equal(t, uint64(50_000), c.Fees.PriorityFee)
	assert.Equal(t, 2, Devnet().MaxRouteComplexity)
	assert.Equal(t, uint64(1_000_000), Expert().Fees.PriorityFee)

	bad := Expert()
	bad.MinTradeSize = bad.MaxTradeSize + 1
	bad.BalanceFractionCap = 2
	assert.Error(t, bad.Validate())
}

func TestApplyReranker(t *testing.T) {
	pools := []pool.State{
		poolAt(1, sol, usdc, 1_000_000_000_000, 150_000_000_000, now),
		poolAt(2, usdc, sol, 140_000_000_000, 1_000_000_000_000, now),
		poolAt(3, usdc, sol, 145_000_000_000, 1_000_000_000_000, now),
	}
	opps, _ := ScanAt(pools, wallet, testLimits(), now)
	require.Len(t, opps, 3)

	top := ApplyReranker(opps, TopN(1))
	require.Len(t, top, 1)
	assert.Equal(t, opps[0].Key(), top[0].Key())

	reversed := ApplyReranker(opps, RerankerFunc(func(in []Opportunity) []Opportunity {
		out := make([]Opportunity, 0, len(in))
		for i := len(in) - 1; i >= 0; i-- {
			out = append(out, in[i])
		}
		return out
	}))
	assert.Equal(t, opps[2].Key(), reversed[0].Key())

	inflated := ApplyReranker(opps, RerankerFunc(func(in []Opportunity) []Opportunity {
		in[0].NetProfit *= 10
		return in
	}))
	assert.Equal(t, opps, inflated, "altered opportunities are rejected")

	duplicated := ApplyReranker(opps, RerankerFunc(func(in []Opportunity) []Opportunity {
		return append(in, in[0])
	}))
	assert.Equal(t, opps, duplicated, "added opportunities are rejected")

	chained := ApplyReranker(opps, Chain(PreferShortRoutes(), TopN(2)))
	assert.Len(t, chained, 2)
	assert.Nil(t, ApplyReranker(nil, TopN(1)))
}
