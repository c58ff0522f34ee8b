package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
)

// State is the coordinator state for one opportunity.
type State int

const (
	StateIdle State = iota
	StateLegPending
	StateLegConfirmed
	StateComplete
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLegPending:
		return "leg_pending"
	case StateLegConfirmed:
		return "leg_confirmed"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the on-chain outcome of a submitted swap.
type Status int

const (
	StatusUnknown Status = iota
	StatusConfirmed
	// StatusReverted means the transaction landed but its instructions
	// failed. It is distinct from a submit or confirm error.
	StatusReverted
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Submission is the submitter's acknowledgement of one swap.
type Submission struct {
	Signature string
	// AmountOut is the submitter's quoted output, if it has one.
	AmountOut uint64
}

// Submitter sends one swap leg. minAmountOut is the slippage floor.
type Submitter interface {
	SubmitSwap(ctx context.Context, leg route.Leg, amountIn, minAmountOut uint64) (Submission, error)
}

// Confirmer waits for a submitted swap to land.
type Confirmer interface {
	Confirm(ctx context.Context, signature string) (Status, error)
}

// BalanceReader reads the wallet balance of a mint.
type BalanceReader interface {
	GetBalance(ctx context.Context, mint pool.Address) (uint64, error)
}

var (
	// ErrAborted is wrapped by every AbortError.
	ErrAborted = errors.New("execution aborted")
	// ErrLossTolerance reports a cumulative home-mint loss beyond tolerance.
	ErrLossTolerance = errors.New("loss tolerance exceeded")
	// ErrReverted reports a leg that confirmed as reverted on every attempt.
	ErrReverted = errors.New("swap reverted")
	// ErrCancelled reports a run cancelled between legs.
	ErrCancelled = errors.New("execution cancelled")
	// ErrInvalidOpportunity rejects an opportunity before any leg is sent.
	ErrInvalidOpportunity = errors.New("invalid opportunity")
)

// AbortError is returned alongside the partial Result of an aborted run.
// Leg is the index of the leg that triggered the abort, or -1 when the run
// aborted before the first leg.
type AbortError struct {
	Leg    int
	Reason error
}

func (e *AbortError) Error() string {
	if e == nil {
		return ""
	}
	if e.Leg < 0 {
		return fmt.Sprintf("execution aborted before first leg: %v", e.Reason)
	}
	return fmt.Sprintf("execution aborted at leg %d: %v", e.Leg, e.Reason)
}

func (e *AbortError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrAborted, e.Reason}
}

// LegResult records one leg as it actually executed.
type LegResult struct {
	Index       int          `json:"index"`
	Pool        pool.Address `json:"pool"`
	MintIn      pool.Address `json:"mint_in"`
	MintOut     pool.Address `json:"mint_out"`
	AmountIn    uint64       `json:"amount_in"`
	ExpectedOut uint64       `json:"expected_out"`
	MinOut      uint64       `json:"min_out"`
	ActualOut   uint64       `json:"actual_out"`
	// WalletDelta is the cumulative home-mint delta after this leg, with any
	// intermediate holdings valued at their simulated cost basis.
	WalletDelta int64  `json:"wallet_delta"`
	Signature   string `json:"signature"`
	Attempts    int    `json:"attempts"`
}

// Result is the immutable record of one execution. Aborted runs carry the
// legs that completed with the balances actually observed.
type Result struct {
	ID             string       `json:"id"`
	RouteKey       string       `json:"route_key"`
	HomeMint       pool.Address `json:"home_mint"`
	TradeSize      uint64       `json:"trade_size"`
	ExpectedProfit int64        `json:"expected_profit"`
	Legs           []LegResult  `json:"legs"`
	BalanceBefore  uint64       `json:"balance_before"`
	BalanceAfter   uint64       `json:"balance_after"`
	RealizedProfit int64        `json:"realized_profit"`
	State          State        `json:"-"`
	Aborted        bool         `json:"aborted"`
	AbortReason    error        `json:"-"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// AbortReasonString renders AbortReason for logs and sinks.
func (r Result) AbortReasonString() string {
	if r.AbortReason == nil {
		return ""
	}
	return r.AbortReason.Error()
}
