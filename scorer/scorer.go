// Package scorer enumerates closed routes over a pool snapshot, sizes and
// simulates each one, and ranks the candidates that clear every cost.
package scorer

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rexbrahh/amm-arb/costmodel"
	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/swapmath"
)

var (
	// ErrStaleData marks a leg observed outside the staleness window. It
	// lowers confidence and never rejects on its own.
	ErrStaleData             = errors.New("scorer: stale pool data")
	ErrInsufficientLiquidity = errors.New("scorer: insufficient liquidity")
	ErrBelowProfitThreshold  = errors.New("scorer: profit below threshold")
	ErrUnprofitable          = errors.New("scorer: no net profit")
	ErrInsufficientBalance   = errors.New("scorer: trade size exceeds wallet balance")
	ErrLowConfidence         = errors.New("scorer: confidence below minimum")
	ErrRouteTooComplex       = errors.New("scorer: route exceeds max complexity")
)

// parallelThreshold is the route count above which a scan fans out.
const parallelThreshold = 64

// LegQuote is the simulated amount entering and leaving one leg.
type LegQuote struct {
	AmountIn    uint64 `json:"amount_in"`
	ExpectedOut uint64 `json:"expected_out"`
}

// Opportunity is a sized, simulated and cost-validated route. Only
// opportunities with positive NetProfit are ever produced.
type Opportunity struct {
	Route       route.Route
	Quotes      []LegQuote
	TradeSize   uint64
	FinalAmount uint64
	GrossProfit int64
	Cost        costmodel.Breakdown
	NetProfit   int64
	ProfitBps   uint64
	Confidence  float64
	Divergence  float64
	Stale       bool
	ScannedAt   time.Time
}

// Score is the ranking key: net profit weighted by confidence.
func (o Opportunity) Score() float64 {
	return float64(o.NetProfit) * o.Confidence
}

// Key identifies the underlying route.
func (o Opportunity) Key() string {
	return o.Route.Key()
}

// Stats summarises one scan. Rejected counts candidates by reason.
type Stats struct {
	Routes        int
	Opportunities int
	Stale         int
	Rejected      map[string]int
}

// Scan ranks the opportunities in pools for a wallet holding walletBalance of
// limits.HomeMint. It never mutates pools.
func Scan(pools []pool.State, walletBalance uint64, limits RiskLimits) []Opportunity {
	opps, _ := ScanAt(pools, walletBalance, limits, time.Now())
	return opps
}

// ScanAt is Scan with an explicit clock, returning rejection statistics.
// Results are ordered by descending NetProfit x Confidence.
func ScanAt(pools []pool.State, walletBalance uint64, limits RiskLimits, now time.Time) ([]Opportunity, Stats) {
	routes := route.EnumerateFrom(pools, limits.HomeMint, route.MaxLegs)
	stats := Stats{Routes: len(routes), Rejected: make(map[string]int)}

	type result struct {
		opp Opportunity
		err error
	}
	results := make([]result, len(routes))
	eval := func(i int) {
		opp, err := Evaluate(routes[i], walletBalance, limits, now)
		results[i] = result{opp: opp, err: err}
	}

	if len(routes) >= parallelThreshold {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := range routes {
			i := i
			g.Go(func() error {
				eval(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range routes {
			eval(i)
		}
	}

	var opps []Opportunity
	for _, res := range results {
		if res.err != nil {
			stats.Rejected[RejectReason(res.err)]++
			continue
		}
		if res.opp.Stale {
			stats.Stale++
		}
		opps = append(opps, res.opp)
	}
	Rank(opps)
	stats.Opportunities = len(opps)
	return opps, stats
}

// Rank sorts opportunities by descending score, breaking ties by profit bps
// and then route key so the order is deterministic.
func Rank(opps []Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		si, sj := opps[i].Score(), opps[j].Score()
		if si != sj {
			return si > sj
		}
		if opps[i].ProfitBps != opps[j].ProfitBps {
			return opps[i].ProfitBps > opps[j].ProfitBps
		}
		return opps[i].Key() < opps[j].Key()
	})
}

// Evaluate sizes, simulates and prices a single route. A nil error means the
// returned opportunity clears every limit.
func Evaluate(r route.Route, walletBalance uint64, limits RiskLimits, now time.Time) (Opportunity, error) {
	if err := r.Validate(); err != nil {
		return Opportunity{}, err
	}
	if limits.MaxRouteComplexity > 0 && r.Len() > limits.MaxRouteComplexity {
		return Opportunity{}, ErrRouteTooComplex
	}
	for _, leg := range r.Legs {
		if leg.Pool.ReserveA < limits.MinLiquidity || leg.Pool.ReserveB < limits.MinLiquidity {
			return Opportunity{}, fmt.Errorf("%w: pool %s", ErrInsufficientLiquidity, leg.Pool.Address)
		}
	}

	div := Divergence(r)
	if div <= 0 {
		return Opportunity{}, ErrUnprofitable
	}

	size := TradeSize(r, walletBalance, limits)
	if size == 0 {
		return Opportunity{}, ErrInsufficientLiquidity
	}
	if size > walletBalance {
		return Opportunity{}, ErrInsufficientBalance
	}

	quotes, final, err := Simulate(r, size)
	if err != nil {
		return Opportunity{}, err
	}
	if final <= size {
		return Opportunity{}, ErrUnprofitable
	}

	cost, err := costmodel.Estimate(size, r.Legs, limits.Fees)
	if err != nil {
		return Opportunity{}, err
	}

	grossU := final - size
	if grossU > math.MaxInt64 || cost.Total > math.MaxInt64 {
		return Opportunity{}, swapmath.ErrOverflow
	}
	gross := int64(grossU)
	net := gross - int64(cost.Total)
	if net <= 0 {
		return Opportunity{}, ErrUnprofitable
	}

	bps := uint64(float64(net) / float64(size) * swapmath.BpsDenominator)
	if bps < limits.MinProfitBps {
		return Opportunity{}, fmt.Errorf("%w: %d bps < %d bps", ErrBelowProfitThreshold, bps, limits.MinProfitBps)
	}

	staleErr := CheckFreshness(r, now, limits.StalenessWindow)
	confidence := Confidence(r, staleErr != nil, limits)
	if confidence < limits.MinConfidence {
		return Opportunity{}, ErrLowConfidence
	}

	return Opportunity{
		Route:       r,
		Quotes:      quotes,
		TradeSize:   size,
		FinalAmount: final,
		GrossProfit: gross,
		Cost:        cost,
		NetProfit:   net,
		ProfitBps:   bps,
		Confidence:  confidence,
		Divergence:  div,
		Stale:       staleErr != nil,
		ScannedAt:   now,
	}, nil
}

// Simulate carries amountIn through every leg, returning the per-leg quotes
// and the final amount of the home mint.
func Simulate(r route.Route, amountIn uint64) ([]LegQuote, uint64, error) {
	quotes := make([]LegQuote, len(r.Legs))
	amount := amountIn
	for i, leg := range r.Legs {
		out, err := swapmath.Swap(leg.Pool, amount, leg.AToB)
		if err != nil {
			return nil, 0, fmt.Errorf("leg %d: %w", i, err)
		}
		quotes[i] = LegQuote{AmountIn: amount, ExpectedOut: out}
		amount = out
	}
	return quotes, amount, nil
}

// CheckFreshness returns ErrStaleData when any leg was observed more than
// window before now. A zero window disables the check.
func CheckFreshness(r route.Route, now time.Time, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	for _, leg := range r.Legs {
		if leg.Pool.ObservedAt.IsZero() || leg.Pool.Age(now) > window {
			return fmt.Errorf("%w: pool %s", ErrStaleData, leg.Pool.Address)
		}
	}
	return nil
}

// Confidence multiplies the freshness, liquidity and complexity factors.
func Confidence(r route.Route, stale bool, limits RiskLimits) float64 {
	c := 1.0
	if stale {
		c *= limits.StaleFactor
	}
	if r.SmallestReserve() < limits.LiquidityThreshold {
		c *= limits.LowLiquidityFactor
	}
	if r.Len() >= 3 {
		c *= limits.ThreeLegFactor
	}
	return clamp01(c)
}

// RejectReason maps an Evaluate error to a short metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrBelowProfitThreshold):
		return "below_profit_threshold"
	case errors.Is(err, ErrUnprofitable):
		return "unprofitable"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrLowConfidence):
		return "low_confidence"
	case errors.Is(err, ErrRouteTooComplex):
		return "route_too_complex"
	case errors.Is(err, swapmath.ErrOverflow):
		return "overflow"
	case errors.Is(err, swapmath.ErrInvalidFee):
		return "invalid_fee"
	default:
		return "invalid_route"
	}
}
