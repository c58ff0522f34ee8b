package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/observability"
	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/route"
	"github.com/rexbrahh/amm-arb/scorer"
	"github.com/rexbrahh/amm-arb/swapmath"
)

// Transition is reported to the transition hook on every state change.
type Transition struct {
	ExecutionID string
	Leg         int
	From        State
	To          State
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLocker sets the per-pool lock. Defaults to a LocalLocker.
func WithLocker(locker PoolLocker) Option {
	return func(c *Coordinator) {
		if locker != nil {
			c.locker = locker
		}
	}
}

// WithRegisterer registers coordinator metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.reg = reg
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTransitionHook observes state changes.
func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Coordinator) {
		c.onTransition = fn
	}
}

// Coordinator drives the legs of one opportunity in order, verifying the
// home-mint balance between legs. Different opportunities may run
// concurrently; those sharing a pool are serialised by the locker.
type Coordinator struct {
	cfg          Config
	submitter    Submitter
	confirmer    Confirmer
	balances     BalanceReader
	locker       PoolLocker
	logger       *zap.Logger
	reg          prometheus.Registerer
	metrics      *coordinatorMetrics
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
	onTransition func(Transition)
}

// NewCoordinator wires a coordinator to its submit, confirm and balance
// collaborators.
func NewCoordinator(cfg Config, submitter Submitter, confirmer Confirmer, balances BalanceReader, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if submitter == nil || confirmer == nil || balances == nil {
		return nil, errors.New("submitter, confirmer and balance reader are required")
	}
	c := &Coordinator{
		cfg:       cfg,
		submitter: submitter,
		confirmer: confirmer,
		balances:  balances,
		locker:    NewLocalLocker(),
		logger:    zap.NewNop(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = newCoordinatorMetrics(c.reg)
	return c, nil
}

// run is the mutable state of one Execute call.
type run struct {
	res   Result
	state State
	home  pool.Address
}

// Execute runs opp to completion or abort. An aborted run returns its
// partial Result together with an *AbortError. Errors before the first leg
// (invalid opportunity, lock or balance failures) leave the Result Idle.
func (c *Coordinator) Execute(ctx context.Context, opp scorer.Opportunity) (Result, error) {
	if err := validateOpportunity(opp); err != nil {
		return Result{State: StateIdle}, err
	}

	r := &run{
		home: opp.Route.Home(),
		res: Result{
			ID:             uuid.NewString(),
			RouteKey:       opp.Key(),
			HomeMint:       opp.Route.Home(),
			TradeSize:      opp.TradeSize,
			ExpectedProfit: opp.NetProfit,
			State:          StateIdle,
			StartedAt:      c.now().UTC(),
		},
	}
	logger := c.logger.With(zap.String("execution_id", r.res.ID), zap.String("route", r.res.RouteKey))

	release, err := c.locker.Acquire(ctx, opp.Route.Pools())
	if err != nil {
		return r.res, fmt.Errorf("acquire pool locks: %w", err)
	}
	defer release()

	before, err := c.balances.GetBalance(ctx, r.home)
	if err != nil {
		return r.res, fmt.Errorf("read balance before: %w", err)
	}
	r.res.BalanceBefore = before
	logger.Info("execution started", zap.Uint64("trade_size", opp.TradeSize), zap.Uint64("balance_before", before))

	var prevActual uint64
	last := len(opp.Route.Legs) - 1
	for i, leg := range opp.Route.Legs {
		if err := ctx.Err(); err != nil {
			return c.abort(r, logger, i-1, fmt.Errorf("%w: %w", ErrCancelled, err))
		}

		amountIn, expected := legAmounts(opp.Quotes[i], i, prevActual)
		minOut := mulDiv(expected, uint64(swapmath.BpsDenominator-c.cfg.SlippageBps), swapmath.BpsDenominator)

		c.transition(r, i, StateLegPending)
		lr, err := c.runLeg(ctx, logger, i, leg, amountIn, expected, minOut)
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			return c.abort(r, logger, i, err)
		}

		homeNow, err := c.balances.GetBalance(ctx, r.home)
		if err != nil {
			return c.abort(r, logger, i, fmt.Errorf("read balance after leg %d: %w", i, err))
		}
		delta := int64(homeNow) - int64(before)
		if i < last {
			delta += int64(mulDiv(lr.ActualOut, opp.TradeSize, opp.Quotes[i].ExpectedOut))
		}
		lr.WalletDelta = delta
		r.res.Legs = append(r.res.Legs, lr)
		prevActual = lr.ActualOut
		c.transition(r, i, StateLegConfirmed)

		logger.Info("leg confirmed",
			zap.Int("leg", i),
			zap.String("signature", lr.Signature),
			zap.Uint64("amount_in", lr.AmountIn),
			zap.Uint64("expected_out", lr.ExpectedOut),
			zap.Uint64("actual_out", lr.ActualOut),
			zap.Int64("wallet_delta", delta),
		)

		floor := -c.cfg.LossTolerance * float64(opp.TradeSize)
		if float64(delta) < floor {
			return c.abort(r, logger, i, fmt.Errorf("%w: delta %d below %.0f", ErrLossTolerance, delta, floor))
		}
	}

	c.finish(ctx, r, logger)
	c.transition(r, last, StateComplete)
	c.metrics.recordExecution(StateComplete.String(), r.res.RealizedProfit)
	logger.Info("execution complete",
		zap.Int64("realized_profit", r.res.RealizedProfit),
		zap.Int64("expected_profit", r.res.ExpectedProfit),
	)
	return r.res, nil
}

// runLeg submits and confirms one leg, retrying failed or reverted attempts
// with exponential backoff. Before every retry the wallet is checked against
// the balances seen before the first attempt; a leg whose confirmation was
// lost but whose swap settled is recorded instead of being submitted again.
func (c *Coordinator) runLeg(ctx context.Context, logger *zap.Logger, index int, leg route.Leg, amountIn, expected, minOut uint64) (LegResult, error) {
	lr := LegResult{
		Index:       index,
		Pool:        leg.Pool.Address,
		MintIn:      leg.MintIn(),
		MintOut:     leg.MintOut(),
		AmountIn:    amountIn,
		ExpectedOut: expected,
		MinOut:      minOut,
	}

	preIn, preOut, err := c.legBalances(ctx, leg)
	if err != nil {
		return lr, err
	}
	settled := func() (bool, error) {
		actual, ok, err := c.landed(ctx, leg, amountIn, preIn, preOut)
		if err != nil || !ok {
			return false, err
		}
		lr.ActualOut = actual
		logger.Warn("leg settled without confirmation",
			zap.Int("leg", index),
			zap.String("signature", lr.Signature),
			zap.Uint64("actual_out", actual),
		)
		return true, nil
	}

	backoff := c.cfg.RetryBackoffBase
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying leg", zap.Int("leg", index), zap.Int("attempt", attempt), zap.Error(lastErr))
			sleepErr := c.sleep(ctx, backoff)
			if ok, err := settled(); err != nil {
				return lr, err
			} else if ok {
				return lr, nil
			}
			if sleepErr != nil {
				return lr, sleepErr
			}
			backoff *= 2
			if c.cfg.RetryBackoffMax > 0 && backoff > c.cfg.RetryBackoffMax {
				backoff = c.cfg.RetryBackoffMax
			}
		}
		lr.Attempts = attempt + 1
		c.metrics.recordAttempt()

		started := c.now()
		sig, actual, err := c.attempt(ctx, leg, amountIn, minOut, preOut)
		c.metrics.observeLeg(c.now().Sub(started))
		if sig != "" {
			lr.Signature = sig
		}
		if err == nil {
			lr.ActualOut = actual
			return lr, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			if ok, serr := settled(); serr == nil && ok {
				return lr, nil
			}
			return lr, ctx.Err()
		}
	}
	if ok, err := settled(); err != nil {
		return lr, err
	} else if ok {
		return lr, nil
	}
	return lr, fmt.Errorf("leg %d failed after %d retries: %w", index, c.cfg.MaxRetries, lastErr)
}

// legContext bounds wallet and chain calls for one leg by LegTimeout.
// Caller cancellation does not interrupt a leg in flight.
func (c *Coordinator) legContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LegTimeout)
}

func (c *Coordinator) legBalances(ctx context.Context, leg route.Leg) (in, out uint64, err error) {
	legCtx, cancel := c.legContext(ctx)
	defer cancel()

	mintIn, mintOut := leg.MintIn(), leg.MintOut()
	if in, err = c.balances.GetBalance(legCtx, mintIn); err != nil {
		return 0, 0, fmt.Errorf("read %s balance: %w", mintIn, err)
	}
	if out, err = c.balances.GetBalance(legCtx, mintOut); err != nil {
		return 0, 0, fmt.Errorf("read %s balance: %w", mintOut, err)
	}
	return in, out, nil
}

// landed reports whether an earlier attempt settled: the output mint was
// credited or the full input was debited since the leg started. Fee-only
// debits of a reverted swap stay below amountIn.
func (c *Coordinator) landed(ctx context.Context, leg route.Leg, amountIn, preIn, preOut uint64) (uint64, bool, error) {
	in, out, err := c.legBalances(ctx, leg)
	if err != nil {
		return 0, false, err
	}
	credited := out > preOut
	debited := in < preIn && preIn-in >= amountIn
	if !credited && !debited {
		return 0, false, nil
	}
	if !credited {
		return 0, true, nil
	}
	return out - preOut, true, nil
}

// attempt runs one submit and confirm round bounded by LegTimeout and
// measures the output from the wallet balance of the output mint against
// preOut.
func (c *Coordinator) attempt(ctx context.Context, leg route.Leg, amountIn, minOut, preOut uint64) (string, uint64, error) {
	legCtx, cancel := c.legContext(ctx)
	defer cancel()

	sub, err := c.submitter.SubmitSwap(legCtx, leg, amountIn, minOut)
	if err != nil {
		return "", 0, fmt.Errorf("submit swap: %w", err)
	}
	status, err := c.confirmer.Confirm(legCtx, sub.Signature)
	if err != nil {
		return sub.Signature, 0, fmt.Errorf("confirm %s: %w", sub.Signature, err)
	}
	if status != StatusConfirmed {
		return sub.Signature, 0, fmt.Errorf("%w: %s (%s)", ErrReverted, sub.Signature, status)
	}

	mintOut := leg.MintOut()
	post, err := c.balances.GetBalance(legCtx, mintOut)
	if err != nil {
		return sub.Signature, 0, fmt.Errorf("read %s balance: %w", mintOut, err)
	}
	if post < preOut {
		return sub.Signature, 0, nil
	}
	return sub.Signature, post - preOut, nil
}

func (c *Coordinator) abort(r *run, logger *zap.Logger, leg int, reason error) (Result, error) {
	// Balances are read on a fresh context so a cancelled run still reports
	// the real interim holdings.
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LegTimeout)
	defer cancel()
	c.finish(ctx, r, logger)

	r.res.Aborted = true
	r.res.AbortReason = reason
	c.transition(r, leg, StateAborted)
	c.metrics.recordExecution(StateAborted.String(), r.res.RealizedProfit)

	logger.Warn("execution aborted",
		zap.Int("leg", leg),
		zap.Int("legs_completed", len(r.res.Legs)),
		zap.Int64("realized_profit", r.res.RealizedProfit),
		zap.Error(reason),
	)
	return r.res, &AbortError{Leg: leg, Reason: reason}
}

func (c *Coordinator) finish(ctx context.Context, r *run, logger *zap.Logger) {
	r.res.FinishedAt = c.now().UTC()
	after, err := c.balances.GetBalance(ctx, r.home)
	if err != nil {
		logger.Error("read balance after", zap.Error(err))
		after = r.res.BalanceBefore
		if n := len(r.res.Legs); n > 0 {
			after = uint64(int64(r.res.BalanceBefore) + r.res.Legs[n-1].WalletDelta)
		}
	}
	r.res.BalanceAfter = after
	r.res.RealizedProfit = int64(after) - int64(r.res.BalanceBefore)
}

func (c *Coordinator) transition(r *run, leg int, to State) {
	from := r.state
	r.state = to
	r.res.State = to
	if c.onTransition != nil {
		c.onTransition(Transition{ExecutionID: r.res.ID, Leg: leg, From: from, To: to})
	}
}

func validateOpportunity(opp scorer.Opportunity) error {
	if err := opp.Route.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOpportunity, err)
	}
	if len(opp.Quotes) != len(opp.Route.Legs) {
		return fmt.Errorf("%w: %d quotes for %d legs", ErrInvalidOpportunity, len(opp.Quotes), len(opp.Route.Legs))
	}
	if opp.TradeSize == 0 || opp.Quotes[0].AmountIn != opp.TradeSize {
		return fmt.Errorf("%w: trade size %d does not match first leg", ErrInvalidOpportunity, opp.TradeSize)
	}
	for i, q := range opp.Quotes {
		if q.ExpectedOut == 0 {
			return fmt.Errorf("%w: leg %d has zero expected output", ErrInvalidOpportunity, i)
		}
	}
	return nil
}

// legAmounts returns the simulated input for a leg, shrunk to what the
// previous leg actually produced, and the expected output scaled to match.
func legAmounts(q scorer.LegQuote, index int, prevActual uint64) (amountIn, expected uint64) {
	amountIn, expected = q.AmountIn, q.ExpectedOut
	if index == 0 || prevActual >= amountIn {
		return amountIn, expected
	}
	return prevActual, mulDiv(expected, prevActual, amountIn)
}

// mulDiv computes a*b/d with a 128-bit intermediate, saturating at MaxUint64.
func mulDiv(a, b, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, d)
	return q
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type coordinatorMetrics struct {
	executions     *prometheus.CounterVec
	attempts       prometheus.Counter
	legSeconds     prometheus.Histogram
	realizedProfit prometheus.Gauge
}

func newCoordinatorMetrics(reg prometheus.Registerer) *coordinatorMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &coordinatorMetrics{
		executions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "execution",
			Name:      observability.MetricExecutionsTotal,
			Help:      "Finished executions by terminal state.",
		}, []string{"state"}),
		attempts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "execution",
			Name:      observability.MetricExecutionLegAttempts,
			Help:      "Leg submit attempts including retries.",
		}),
		legSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: observability.Namespace,
			Subsystem: "execution",
			Name:      observability.MetricExecutionLegSeconds,
			Help:      "Submit-to-confirm latency per leg attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		realizedProfit: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Subsystem: "execution",
			Name:      observability.MetricExecutionRealizedProfit,
			Help:      "Realized home-mint profit of the most recent execution.",
		}),
	}
}

func (m *coordinatorMetrics) recordExecution(state string, profit int64) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(state).Inc()
	m.realizedProfit.Set(float64(profit))
}

func (m *coordinatorMetrics) recordAttempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *coordinatorMetrics) observeLeg(d time.Duration) {
	if m == nil {
		return
	}
	m.legSeconds.Observe(d.Seconds())
}
