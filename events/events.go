// Package events defines the JSON records the engine publishes for
// downstream sinks and the API cache.
package events

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/scorer"
)

// Kind tags a record with the subject suffix it travels on.
type Kind string

const (
	KindOpportunity  Kind = "opportunity"
	KindExecution    Kind = "execution"
	KindPoolSnapshot Kind = "pool.snapshot"
)

// Hop is one leg of a published route.
type Hop struct {
	Pool        string `json:"pool"`
	Venue       string `json:"venue"`
	MintIn      string `json:"mint_in"`
	MintOut     string `json:"mint_out"`
	AmountIn    uint64 `json:"amount_in"`
	ExpectedOut uint64 `json:"expected_out"`
}

// Opportunity is the published form of a scored route.
type Opportunity struct {
	RouteKey    string    `json:"route_key"`
	HomeMint    string    `json:"home_mint"`
	Hops        []Hop     `json:"hops"`
	TradeSize   uint64    `json:"trade_size"`
	FinalAmount uint64    `json:"final_amount"`
	GrossProfit int64     `json:"gross_profit"`
	TotalCost   uint64    `json:"total_cost"`
	NetProfit   int64     `json:"net_profit"`
	ProfitBps   uint64    `json:"profit_bps"`
	Confidence  float64   `json:"confidence"`
	Divergence  float64   `json:"divergence"`
	Stale       bool      `json:"stale"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// MsgID is the dedupe key: one record per route per scan.
func (o Opportunity) MsgID() string {
	return o.RouteKey + ":" + strconv.FormatInt(o.ScannedAt.UnixNano(), 10)
}

// Execution is the published outcome of one coordinator run.
type Execution struct {
	ID             string                `json:"id"`
	RouteKey       string                `json:"route_key"`
	HomeMint       string                `json:"home_mint"`
	TradeSize      uint64                `json:"trade_size"`
	ExpectedProfit int64                 `json:"expected_profit"`
	RealizedProfit int64                 `json:"realized_profit"`
	BalanceBefore  uint64                `json:"balance_before"`
	BalanceAfter   uint64                `json:"balance_after"`
	State          string                `json:"state"`
	Aborted        bool                  `json:"aborted"`
	AbortReason    string                `json:"abort_reason,omitempty"`
	Legs           []execution.LegResult `json:"legs"`
	StartedAt      time.Time             `json:"started_at"`
	FinishedAt     time.Time             `json:"finished_at"`
}

// MsgID is the dedupe key for an execution.
func (e Execution) MsgID() string {
	return e.ID
}

// PoolSnapshot is the published form of a pool state.
type PoolSnapshot struct {
	Address    string    `json:"address"`
	Venue      string    `json:"venue"`
	MintA      string    `json:"mint_a"`
	MintB      string    `json:"mint_b"`
	ReserveA   uint64    `json:"reserve_a"`
	ReserveB   uint64    `json:"reserve_b"`
	FeeBps     uint16    `json:"fee_bps"`
	DecimalsA  uint8     `json:"decimals_a"`
	DecimalsB  uint8     `json:"decimals_b"`
	Slot       uint64    `json:"slot"`
	ObservedAt time.Time `json:"observed_at"`
}

// MsgID is the dedupe key: one record per pool per slot.
func (p PoolSnapshot) MsgID() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Slot)
}

// Scan is one ranked scan as cached for the API.
type Scan struct {
	ScannedAt     time.Time      `json:"scanned_at"`
	Routes        int            `json:"routes"`
	Rejected      map[string]int `json:"rejected,omitempty"`
	Opportunities []Opportunity  `json:"opportunities"`
}

// FromOpportunity converts a scored opportunity.
func FromOpportunity(o scorer.Opportunity) Opportunity {
	hops := make([]Hop, len(o.Route.Legs))
	for i, leg := range o.Route.Legs {
		hops[i] = Hop{
			Pool:    leg.Pool.Address.String(),
			Venue:   leg.Pool.Venue.String(),
			MintIn:  leg.MintIn().String(),
			MintOut: leg.MintOut().String(),
		}
		if i < len(o.Quotes) {
			hops[i].AmountIn = o.Quotes[i].AmountIn
			hops[i].ExpectedOut = o.Quotes[i].ExpectedOut
		}
	}
	return Opportunity{
		RouteKey:    o.Key(),
		HomeMint:    o.Route.Home().String(),
		Hops:        hops,
		TradeSize:   o.TradeSize,
		FinalAmount: o.FinalAmount,
		GrossProfit: o.GrossProfit,
		TotalCost:   o.Cost.Total,
		NetProfit:   o.NetProfit,
		ProfitBps:   o.ProfitBps,
		Confidence:  o.Confidence,
		Divergence:  o.Divergence,
		Stale:       o.Stale,
		ScannedAt:   o.ScannedAt.UTC(),
	}
}

// FromOpportunities converts a ranked scan.
func FromOpportunities(opps []scorer.Opportunity) []Opportunity {
	out := make([]Opportunity, len(opps))
	for i, o := range opps {
		out[i] = FromOpportunity(o)
	}
	return out
}

// FromResult converts a coordinator result.
func FromResult(r execution.Result) Execution {
	return Execution{
		ID:             r.ID,
		RouteKey:       r.RouteKey,
		HomeMint:       r.HomeMint.String(),
		TradeSize:      r.TradeSize,
		ExpectedProfit: r.ExpectedProfit,
		RealizedProfit: r.RealizedProfit,
		BalanceBefore:  r.BalanceBefore,
		BalanceAfter:   r.BalanceAfter,
		State:          r.State.String(),
		Aborted:        r.Aborted,
		AbortReason:    r.AbortReasonString(),
		Legs:           r.Legs,
		StartedAt:      r.StartedAt.UTC(),
		FinishedAt:     r.FinishedAt.UTC(),
	}
}

// FromState converts a pool state.
func FromState(st pool.State) PoolSnapshot {
	return PoolSnapshot{
		Address:    st.Address.String(),
		Venue:      st.Venue.String(),
		MintA:      st.MintA.String(),
		MintB:      st.MintB.String(),
		ReserveA:   st.ReserveA,
		ReserveB:   st.ReserveB,
		FeeBps:     st.FeeBps,
		DecimalsA:  st.DecimalsA,
		DecimalsB:  st.DecimalsB,
		Slot:       st.Slot,
		ObservedAt: st.ObservedAt.UTC(),
	}
}
