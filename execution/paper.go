package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/swapmath"
)

// ErrInsufficientFunds is returned by PaperWallet when a swap spends more
// than the wallet holds.
var ErrInsufficientFunds = errors.New("paper wallet: insufficient funds")

// StateSource returns the latest known state of a pool.
type StateSource interface {
	Get(addr pool.Address) (pool.State, bool)
}

// PaperWallet is a dry-run Submitter, Confirmer and BalanceReader. Swaps are
// simulated against the latest pool state and settle immediately; a swap
// whose output falls below the slippage floor confirms as reverted and only
// pays the network fee.
type PaperWallet struct {
	mu         sync.Mutex
	pools      StateSource
	feeMint    pool.Address
	networkFee uint64
	balances   map[pool.Address]uint64
	statuses   map[string]Status
}

// NewPaperWallet builds a wallet that charges networkFee of feeMint per swap.
// pools may be nil, in which case each leg's own pool snapshot is used.
func NewPaperWallet(pools StateSource, feeMint pool.Address, networkFee uint64) *PaperWallet {
	return &PaperWallet{
		pools:      pools,
		feeMint:    feeMint,
		networkFee: networkFee,
		balances:   make(map[pool.Address]uint64),
		statuses:   make(map[string]Status),
	}
}

// Credit adds amount of mint to the wallet.
func (w *PaperWallet) Credit(mint pool.Address, amount uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[mint] += amount
}

func (w *PaperWallet) GetBalance(_ context.Context, mint pool.Address) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[mint], nil
}

func (w *PaperWallet) SubmitSwap(ctx context.Context, leg route.Leg, amountIn, minAmountOut uint64) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}
	st := leg.Pool
	if w.pools != nil {
		if latest, ok := w.pools.Get(st.Address); ok {
			st = latest
		}
	}
	out, err := swapmath.Swap(st, amountIn, leg.AToB)
	if err != nil {
		return Submission{}, fmt.Errorf("simulate swap on %s: %w", st.Address, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	mintIn, mintOut := leg.MintIn(), leg.MintOut()
	need := map[pool.Address]uint64{mintIn: amountIn}
	need[w.feeMint] += w.networkFee
	for mint, amt := range need {
		if w.balances[mint] < amt {
			return Submission{}, fmt.Errorf("%w: need %d of %s, have %d", ErrInsufficientFunds, amt, mint, w.balances[mint])
		}
	}

	sig := "paper-" + uuid.NewString()
	w.balances[w.feeMint] -= w.networkFee
	if out < minAmountOut {
		w.statuses[sig] = StatusReverted
		return Submission{Signature: sig}, nil
	}
	w.balances[mintIn] -= amountIn
	w.balances[mintOut] += out
	w.statuses[sig] = StatusConfirmed
	return Submission{Signature: sig, AmountOut: out}, nil
}

func (w *PaperWallet) Confirm(ctx context.Context, signature string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	status, ok := w.statuses[signature]
	if !ok {
		return StatusUnknown, fmt.Errorf("unknown signature %q", signature)
	}
	return status, nil
}
