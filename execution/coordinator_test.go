package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/scorer"
	"github.com/rexbrahh/amm-arb/swapmath"
)

var (
	sol  = pool.MustParseAddress(common.MintSOL)
	usdc = pool.MustParseAddress(common.MintUSDC)
)

const tradeSize = 1_000_000_000

func poolAt(id byte, a, b pool.Address, ra, rb uint64) pool.State {
	var addr pool.Address
	addr[0] = id
	return pool.State{
		Address: addr, Venue: pool.VenueRaydiumAMM,
		MintA: a, MintB: b, ReserveA: ra, ReserveB: rb, FeeBps: 25,
	}
}

// opportunity is SOL->USDC on a fair pool and USDC->SOL on a discounted one.
func opportunity(t *testing.T) scorer.Opportunity {
	t.Helper()
	r := route.Route{Legs: []route.Leg{
		{Pool: poolAt(1, sol, usdc, 1_000_000_000_000, 150_000_000_000), AToB: true},
		{Pool: poolAt(2, usdc, sol, 140_000_000_000, 1_000_000_000_000), AToB: true},
	}}
	quotes, final, err := scorer.Simulate(r, tradeSize)
	require.NoError(t, err)
	require.Greater(t, final, uint64(tradeSize))
	return scorer.Opportunity{
		Route:       r,
		Quotes:      quotes,
		TradeSize:   tradeSize,
		FinalAmount: final,
		GrossProfit: int64(final - tradeSize),
		NetProfit:   int64(final - tradeSize),
	}
}

// scriptedWallet settles swaps instantly. out decides each swap's output;
// failures and reverts are consumed one per submit.
type scriptedWallet struct {
	mu       sync.Mutex
	balances map[pool.Address]uint64
	out      func(n int, leg route.Leg, amountIn uint64) uint64
	failures []error
	reverts  []bool
	statuses map[string]Status
	submits  []route.Leg
}

func newScriptedWallet() *scriptedWallet {
	return &scriptedWallet{
		balances: map[pool.Address]uint64{sol: 10 * tradeSize},
		statuses: make(map[string]Status),
		out: func(_ int, leg route.Leg, amountIn uint64) uint64 {
			out, _ := swapmath.Swap(leg.Pool, amountIn, leg.AToB)
			return out
		},
	}
}

func (w *scriptedWallet) SubmitSwap(_ context.Context, leg route.Leg, amountIn, _ uint64) (Submission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.submits)
	w.submits = append(w.submits, leg)
	if len(w.failures) > 0 {
		err := w.failures[0]
		w.failures = w.failures[1:]
		if err != nil {
			return Submission{}, err
		}
	}
	sig := string(rune('a' + n))
	if len(w.reverts) > 0 {
		revert := w.reverts[0]
		w.reverts = w.reverts[1:]
		if revert {
			w.statuses[sig] = StatusReverted
			return Submission{Signature: sig}, nil
		}
	}
	out := w.out(n, leg, amountIn)
	w.balances[leg.MintIn()] -= amountIn
	w.balances[leg.MintOut()] += out
	w.statuses[sig] = StatusConfirmed
	return Submission{Signature: sig, AmountOut: out}, nil
}

func (w *scriptedWallet) Confirm(_ context.Context, sig string) (Status, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statuses[sig], nil
}

func (w *scriptedWallet) GetBalance(_ context.Context, mint pool.Address) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[mint], nil
}

func (w *scriptedWallet) submitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.submits)
}

func newTestCoordinator(t *testing.T, w *scriptedWallet, opts ...Option) (*Coordinator, *[]time.Duration) {
	t.Helper()
	c, err := NewCoordinator(DefaultConfig(), w, w, w, opts...)
	require.NoError(t, err)
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestExecuteCompletes(t *testing.T) {
	w := newScriptedWallet()
	var states []State
	c, _ := newTestCoordinator(t, w, WithTransitionHook(func(tr Transition) {
		states = append(states, tr.To)
	}))
	opp := opportunity(t)

	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)

	assert.Equal(t, StateComplete, res.State)
	assert.False(t, res.Aborted)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []State{StateLegPending, StateLegConfirmed, StateLegPending, StateLegConfirmed, StateComplete}, states)
	require.Len(t, res.Legs, 2)
	for i, leg := range res.Legs {
		assert.Equal(t, opp.Quotes[i].AmountIn, leg.AmountIn)
		assert.Equal(t, opp.Quotes[i].ExpectedOut, leg.ExpectedOut)
		assert.Equal(t, leg.ExpectedOut, leg.ActualOut)
		assert.Equal(t, 1, leg.Attempts)
		assert.Less(t, leg.MinOut, leg.ExpectedOut)
	}
	assert.Zero(t, res.Legs[0].WalletDelta)
	assert.Equal(t, int64(opp.FinalAmount-tradeSize), res.RealizedProfit)
	assert.Equal(t, int64(res.BalanceAfter)-int64(res.BalanceBefore), res.RealizedProfit)
	assert.Equal(t, res.RealizedProfit, res.Legs[1].WalletDelta)
}

func TestExecuteAbortsOnLegOneLoss(t *testing.T) {
	w := newScriptedWallet()
	w.out = func(n int, leg route.Leg, amountIn uint64) uint64 {
		out, _ := swapmath.Swap(leg.Pool, amountIn, leg.AToB)
		if n == 0 {
			return out / 2
		}
		return out
	}
	var states []State
	c, _ := newTestCoordinator(t, w, WithTransitionHook(func(tr Transition) {
		states = append(states, tr.To)
	}))

	res, err := c.Execute(context.Background(), opportunity(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, ErrLossTolerance)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, 0, abortErr.Leg)

	assert.Equal(t, 1, w.submitCount(), "leg 2 must never be submitted")
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, StateAborted, states[len(states)-1])
	assert.True(t, res.Aborted)
	assert.ErrorIs(t, res.AbortReason, ErrLossTolerance)
	require.Len(t, res.Legs, 1)
	assert.InDelta(t, -tradeSize/2, float64(res.Legs[0].WalletDelta), 2)
	assert.Equal(t, int64(-tradeSize), res.RealizedProfit)
}

func TestExecuteToleratesSmallShortfall(t *testing.T) {
	w := newScriptedWallet()
	w.out = func(n int, leg route.Leg, amountIn uint64) uint64 {
		out, _ := swapmath.Swap(leg.Pool, amountIn, leg.AToB)
		if n == 0 {
			return out - out/2000
		}
		return out
	}
	c, _ := newTestCoordinator(t, w)
	opp := opportunity(t)

	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)

	actual0 := res.Legs[0].ActualOut
	assert.Less(t, actual0, opp.Quotes[1].AmountIn)
	assert.Equal(t, actual0, res.Legs[1].AmountIn, "next leg spends what the previous one produced")
	assert.Less(t, res.Legs[1].ExpectedOut, opp.Quotes[1].ExpectedOut)
	assert.Equal(t, StateComplete, res.State)
}

func TestExecuteRetriesWithBackoff(t *testing.T) {
	w := newScriptedWallet()
	w.failures = []error{errors.New("node unavailable"), errors.New("blockhash expired")}
	c, sleeps := newTestCoordinator(t, w)

	res, err := c.Execute(context.Background(), opportunity(t))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Legs[0].Attempts)
	assert.Equal(t, 1, res.Legs[1].Attempts)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, *sleeps)
}

func TestExecuteAbortsWhenRetriesExhausted(t *testing.T) {
	w := newScriptedWallet()
	w.reverts = []bool{true, true, true}
	c, _ := newTestCoordinator(t, w)

	res, err := c.Execute(context.Background(), opportunity(t))
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, ErrReverted)
	assert.Equal(t, 3, w.submitCount())
	assert.Empty(t, res.Legs)
	assert.True(t, res.Aborted)
	assert.Zero(t, res.RealizedProfit)
}

// lostConfirmations settles every swap but never answers a confirmation
// before the leg deadline.
type lostConfirmations struct {
	*scriptedWallet
}

func (lostConfirmations) Confirm(ctx context.Context, _ string) (Status, error) {
	<-ctx.Done()
	return StatusUnknown, ctx.Err()
}

func newLostConfirmationCoordinator(t *testing.T, w *scriptedWallet) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LegTimeout = 20 * time.Millisecond
	lost := lostConfirmations{w}
	c, err := NewCoordinator(cfg, w, lost, w)
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestExecuteRecordsSettledLegWithoutResubmitting(t *testing.T) {
	w := newScriptedWallet()
	c := newLostConfirmationCoordinator(t, w)
	opp := opportunity(t)

	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)

	assert.Equal(t, 2, w.submitCount(), "each leg is submitted exactly once")
	assert.Equal(t, StateComplete, res.State)
	require.Len(t, res.Legs, 2)
	assert.Equal(t, opp.Quotes[0].ExpectedOut, res.Legs[0].ActualOut)
	assert.Equal(t, "a", res.Legs[0].Signature)
	assert.Equal(t, 1, res.Legs[0].Attempts)
	assert.Equal(t, int64(opp.FinalAmount-tradeSize), res.RealizedProfit)
}

func TestExecuteAbortsOnSettledLossWithoutResubmitting(t *testing.T) {
	w := newScriptedWallet()
	w.out = func(n int, leg route.Leg, amountIn uint64) uint64 {
		out, _ := swapmath.Swap(leg.Pool, amountIn, leg.AToB)
		if n == 0 {
			return out / 2
		}
		return out
	}
	c := newLostConfirmationCoordinator(t, w)

	res, err := c.Execute(context.Background(), opportunity(t))
	assert.ErrorIs(t, err, ErrLossTolerance)
	assert.Equal(t, 1, w.submitCount())
	require.Len(t, res.Legs, 1)
	assert.True(t, res.Aborted)
	assert.Equal(t, int64(-tradeSize), res.RealizedProfit)
}

func TestExecuteCancelledBetweenLegs(t *testing.T) {
	w := newScriptedWallet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestCoordinator(t, w, WithTransitionHook(func(tr Transition) {
		if tr.To == StateLegConfirmed && tr.Leg == 0 {
			cancel()
		}
	}))

	res, err := c.Execute(ctx, opportunity(t))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, w.submitCount())
	require.Len(t, res.Legs, 1)
	assert.True(t, res.Aborted)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, int64(-tradeSize), res.RealizedProfit, "interim balances are real, not undone")
}

func TestExecuteRejectsInvalidOpportunity(t *testing.T) {
	w := newScriptedWallet()
	c, _ := newTestCoordinator(t, w)

	opp := opportunity(t)
	opp.Quotes = opp.Quotes[:1]
	res, err := c.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, ErrInvalidOpportunity)
	assert.NotErrorIs(t, err, ErrAborted)
	assert.Equal(t, StateIdle, res.State)

	opp = opportunity(t)
	opp.TradeSize++
	_, err = c.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, ErrInvalidOpportunity)
	assert.Zero(t, w.submitCount())
}

func TestExecuteWithPaperWallet(t *testing.T) {
	opp := opportunity(t)
	store := pool.NewStore()
	for _, leg := range opp.Route.Legs {
		store.Put(leg.Pool)
	}
	wallet := NewPaperWallet(store, sol, 5_000)
	wallet.Credit(sol, 10*tradeSize)

	c, err := NewCoordinator(DefaultConfig(), wallet, wallet, wallet, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, int64(opp.FinalAmount-tradeSize-10_000), res.RealizedProfit)
	assert.Equal(t, int64(-5_000), res.Legs[0].WalletDelta)
	assert.True(t, len(res.Legs[0].Signature) > len("paper-"))
}

func TestPaperWalletRevertsBelowMinOut(t *testing.T) {
	opp := opportunity(t)
	wallet := NewPaperWallet(nil, sol, 5_000)
	wallet.Credit(sol, tradeSize+5_000)
	leg := opp.Route.Legs[0]

	sub, err := wallet.SubmitSwap(context.Background(), leg, tradeSize, opp.Quotes[0].ExpectedOut+1)
	require.NoError(t, err)
	status, err := wallet.Confirm(context.Background(), sub.Signature)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, status)

	bal, _ := wallet.GetBalance(context.Background(), sol)
	assert.Equal(t, uint64(tradeSize), bal, "reverted swaps only pay the fee")

	_, err = wallet.SubmitSwap(context.Background(), leg, tradeSize, 0)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = wallet.Confirm(context.Background(), "missing")
	assert.Error(t, err)
}

func TestLocalLockerSerialisesSharedPools(t *testing.T) {
	l := NewLocalLocker()
	p1, p2, p3 := poolAt(1, sol, usdc, 1, 1).Address, poolAt(2, sol, usdc, 1, 1).Address, poolAt(3, sol, usdc, 1, 1).Address

	release, err := l.Acquire(context.Background(), []pool.Address{p2, p1})
	require.NoError(t, err)

	disjoint, err := l.Acquire(context.Background(), []pool.Address{p3})
	require.NoError(t, err)
	disjoint()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, []pool.Address{p3, p1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), []pool.Address{p1, p3})
		if err == nil {
			r()
		}
		close(acquired)
	}()
	release()
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired released pool")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(envMaxRetries, "4")
	t.Setenv(envLegTimeout, "5s")
	t.Setenv(envSlippageBps, "75")
	t.Setenv(envLossTolerance, "0.002")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.LegTimeout)
	assert.Equal(t, uint16(75), cfg.SlippageBps)
	assert.Equal(t, 0.002, cfg.LossTolerance)

	t.Setenv(envLossTolerance, "2")
	_, err = FromEnv()
	assert.Error(t, err)

	t.Setenv(envLossTolerance, "abc")
	_, err = FromEnv()
	assert.ErrorContains(t, err, envLossTolerance)
}
