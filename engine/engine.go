// Package engine runs the scan loop: snapshot the pool store, score routes,
// publish the ranked result and optionally execute the best opportunity.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rexbrahh/amm-arb/costmodel"
	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/events"
	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/observability"
	"github.com/rexbrahh/amm-arb/pool"
	"github.com/rexbrahh/amm-arb/scorer"
)

// Publisher emits engine records downstream.
type Publisher interface {
	PublishOpportunity(ctx context.Context, opp events.Opportunity) error
	PublishExecution(ctx context.Context, exec events.Execution) error
	PublishPoolSnapshot(ctx context.Context, snap events.PoolSnapshot) error
}

// ScanCache holds the latest scan and pool snapshots for the API.
type ScanCache interface {
	SetScan(ctx context.Context, scan events.Scan) error
	SetPool(ctx context.Context, snap events.PoolSnapshot) error
}

// Executor runs one opportunity to completion or abort.
type Executor interface {
	Execute(ctx context.Context, opp scorer.Opportunity) (execution.Result, error)
}

// Report summarises one scan.
type Report struct {
	ScannedAt     time.Time
	Balance       uint64
	Stats         scorer.Stats
	Opportunities []scorer.Opportunity
	// Executed is set when the best opportunity was handed to the executor
	// and the run reached a terminal state.
	Executed *execution.Result
	// Blocked is the guard error that kept the best opportunity from running.
	Blocked error
}

// Option customises an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithExecutor enables hand-off to an executor when Config.Execute is set.
func WithExecutor(x Executor) Option {
	return func(e *Engine) { e.executor = x }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithCache(c ScanCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithFeeOracle refreshes the network and priority fees every
// Config.FeeRefreshInterval.
func WithFeeOracle(o costmodel.FeeOracle) Option {
	return func(e *Engine) { e.fees = o }
}

// WithReranker replaces the default TopN reranker.
func WithReranker(r scorer.Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// Engine owns the scan loop.
type Engine struct {
	cfg       Config
	store     *pool.Store
	balances  execution.BalanceReader
	executor  Executor
	publisher Publisher
	cache     ScanCache
	fees      costmodel.FeeOracle
	reranker  scorer.Reranker
	guard     *Guard
	mints     common.MintMetadataProvider
	logger    *zap.Logger
	reg       prometheus.Registerer
	metrics   *engineMetrics
	now       func() time.Time
	trigger   chan struct{}

	mu     sync.RWMutex
	limits scorer.RiskLimits
	// published tracks the last snapshot slot sent per pool.
	published map[pool.Address]uint64
}

// New builds an engine over store. balances supplies the home-mint balance
// used for sizing.
func New(cfg Config, store *pool.Store, balances execution.BalanceReader, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || balances == nil {
		return nil, errors.New("pool store and balance reader are required")
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		balances:  balances,
		guard:     NewGuard(cfg.Limits.MaxDailyTrades, cfg.Limits.StopLoss),
		mints:     cfg.MintMetadata(),
		logger:    zap.NewNop(),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		limits:    cfg.Limits,
		published: make(map[pool.Address]uint64),
	}
	var stages []scorer.Reranker
	if cfg.PreferShortRoutes {
		stages = append(stages, scorer.PreferShortRoutes())
	}
	if cfg.TopN > 0 {
		stages = append(stages, scorer.TopN(cfg.TopN))
	}
	if len(stages) > 0 {
		e.reranker = scorer.Chain(stages...)
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Execute && e.executor == nil {
		return nil, errors.New("execute enabled without an executor")
	}
	e.metrics = newEngineMetrics(e.reg)
	return e, nil
}

// Limits returns the risk limits in effect, including refreshed fees.
func (e *Engine) Limits() scorer.RiskLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// Guard exposes the daily trade and stop-loss guard.
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Trigger requests a scan ahead of the next tick. Calls while a request is
// already pending are coalesced.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run scans every ScanInterval and on Trigger, and refreshes fees in the
// background, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.runScans(ctx)
	})
	if e.fees != nil && e.cfg.FeeRefreshInterval > 0 {
		g.Go(func() error {
			return e.runFeeRefresh(ctx)
		})
	}

	return g.Wait()
}

func (e *Engine) runScans(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.trigger:
		}

		report, err := e.ScanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("scan failed", zap.Error(err))
			continue
		}
		if len(report.Opportunities) > 0 {
			best := report.Opportunities[0]
			e.logger.Debug("scan complete",
				zap.Int("routes", report.Stats.Routes),
				zap.Int("opportunities", len(report.Opportunities)),
				zap.String("best_route", best.Key()),
				zap.Int64("best_net_profit", best.NetProfit),
			)
		}
	}
}

func (e *Engine) runFeeRefresh(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.FeeRefreshInterval)
	defer ticker.Stop()

	for {
		if err := e.RefreshFees(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("fee refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshFees pulls live fees from the oracle into the limits used by
// subsequent scans. The previous fees stay in effect on error.
func (e *Engine) RefreshFees(ctx context.Context) error {
	if e.fees == nil {
		return nil
	}
	current := e.Limits().Fees
	fees, err := current.Refresh(ctx, e.fees)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.limits.Fees = fees
	e.mu.Unlock()

	if fees != current {
		e.logger.Info("fees refreshed",
			zap.Uint64("network_fee", fees.NetworkFee),
			zap.Uint64("priority_fee", fees.PriorityFee),
		)
	}
	return nil
}

// ScanOnce runs one scan over a consistent snapshot of the store.
// Publishing and caching failures are logged and counted but do not fail
// the scan.
func (e *Engine) ScanOnce(ctx context.Context) (Report, error) {
	start := e.now()
	snapshot := e.store.Snapshot()
	e.publishSnapshots(ctx, snapshot)

	limits := e.Limits()
	balance, err := e.balances.GetBalance(ctx, limits.HomeMint)
	if err != nil {
		return Report{}, fmt.Errorf("read wallet balance: %w", err)
	}

	opps, stats := scorer.ScanAt(snapshot, balance, limits, start)
	opps = scorer.ApplyReranker(opps, e.reranker)
	e.metrics.observeScan(stats, time.Since(start))

	report := Report{
		ScannedAt:     start,
		Balance:       balance,
		Stats:         stats,
		Opportunities: opps,
	}

	published := events.FromOpportunities(opps)
	if e.cache != nil {
		scan := events.Scan{
			ScannedAt:     start.UTC(),
			Routes:        stats.Routes,
			Rejected:      stats.Rejected,
			Opportunities: published,
		}
		if err := e.cache.SetScan(ctx, scan); err != nil {
			e.logger.Warn("cache scan failed", zap.Error(err))
		}
	}
	if e.publisher != nil {
		for _, opp := range published {
			if err := e.publisher.PublishOpportunity(ctx, opp); err != nil {
				e.metrics.recordPublishError(events.KindOpportunity)
				e.logger.Warn("publish opportunity failed", zap.String("route", opp.RouteKey), zap.Error(err))
			}
		}
	}

	if e.cfg.Execute && len(opps) > 0 {
		e.execute(ctx, opps[0], &report)
	}
	return report, nil
}

func (e *Engine) execute(ctx context.Context, opp scorer.Opportunity, report *Report) {
	if err := e.guard.Allow(e.now()); err != nil {
		report.Blocked = err
		e.metrics.recordBlocked(err)
		e.logger.Info("execution blocked", zap.String("route", opp.Key()), zap.Error(err))
		return
	}

	res, err := e.executor.Execute(ctx, opp)
	if res.State != execution.StateComplete && res.State != execution.StateAborted {
		e.logger.Warn("execution not started", zap.String("route", opp.Key()), zap.Error(err))
		return
	}

	e.guard.Record(e.now(), res.RealizedProfit)
	report.Executed = &res

	decimals, derr := e.mints.GetDecimals(res.HomeMint.String())
	if derr != nil {
		decimals = 9
	}
	e.logger.Info("execution finished",
		zap.String("execution_id", res.ID),
		zap.String("route", opp.Route.Label(e.mints)),
		zap.String("state", res.State.String()),
		zap.String("realized_profit", common.FormatSignedAmount(res.RealizedProfit, decimals)),
		zap.Error(err),
	)

	if e.publisher != nil {
		if perr := e.publisher.PublishExecution(ctx, events.FromResult(res)); perr != nil {
			e.metrics.recordPublishError(events.KindExecution)
			e.logger.Warn("publish execution failed", zap.String("execution_id", res.ID), zap.Error(perr))
		}
	}
}

// publishSnapshots sends each pool whose slot advanced since the last scan.
func (e *Engine) publishSnapshots(ctx context.Context, snapshot []pool.State) {
	if e.publisher == nil && e.cache == nil {
		return
	}

	e.mu.Lock()
	var changed []pool.State
	for _, st := range snapshot {
		if last, ok := e.published[st.Address]; ok && st.Slot <= last {
			continue
		}
		e.published[st.Address] = st.Slot
		changed = append(changed, st)
	}
	e.mu.Unlock()

	for _, st := range changed {
		snap := events.FromState(st)
		if e.cache != nil {
			if err := e.cache.SetPool(ctx, snap); err != nil {
				e.logger.Warn("cache pool failed", zap.String("pool", snap.Address), zap.Error(err))
			}
		}
		if e.publisher != nil {
			if err := e.publisher.PublishPoolSnapshot(ctx, snap); err != nil {
				e.metrics.recordPublishError(events.KindPoolSnapshot)
				e.logger.Warn("publish pool snapshot failed", zap.String("pool", snap.Address), zap.Error(err))
			}
		}
	}
}

type engineMetrics struct {
	routes        prometheus.Counter
	opportunities prometheus.Counter
	rejected      *prometheus.CounterVec
	scanSeconds   prometheus.Histogram
	blocked       *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &engineMetrics{
		routes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricScannerRoutesTotal,
			Help:      "Candidate routes evaluated.",
		}),
		opportunities: factory.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricScannerOpportunitiesTotal,
			Help:      "Routes that passed every profit and cost check.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricScannerRejectedTotal,
			Help:      "Rejected routes by reason.",
		}, []string{"reason"}),
		scanSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricScannerScanSeconds,
			Help:      "Wall time of one scan.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		blocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricEngineGuardBlockedTotal,
			Help:      "Executions blocked by the daily trade or stop-loss guard.",
		}, []string{"reason"}),
		publishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricEnginePublishErrors,
			Help:      "Records the engine failed to publish.",
		}, []string{"kind"}),
	}
}

func (m *engineMetrics) observeScan(stats scorer.Stats, d time.Duration) {
	if m == nil {
		return
	}
	m.routes.Add(float64(stats.Routes))
	m.opportunities.Add(float64(stats.Opportunities))
	for reason, n := range stats.Rejected {
		m.rejected.WithLabelValues(reason).Add(float64(n))
	}
	m.scanSeconds.Observe(d.Seconds())
}

func (m *engineMetrics) recordBlocked(err error) {
	if m == nil {
		return
	}
	reason := "stop_loss"
	if errors.Is(err, ErrDailyTradeLimit) {
		reason = "daily_trades"
	}
	m.blocked.WithLabelValues(reason).Inc()
}

func (m *engineMetrics) recordPublishError(kind events.Kind) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(string(kind)).Inc()
}
