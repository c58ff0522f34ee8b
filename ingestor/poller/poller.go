// Package poller refreshes the latest-state pool map from RPC reads with a
// bounded worker budget.
package poller

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

	"github.com/rexbrahh/amm-arb/chain"
	"github.com/rexbrahh/amm-arb/observability"
	"github.com/rexbrahh/amm-arb/pool"
)

// AccountReader fetches raw accounts and the slot they were read at.
type AccountReader interface {
	GetAccounts(ctx context.Context, addrs []pool.Address) ([]chain.Account, uint64, error)
}

// Range is an inclusive-exclusive window into the address list.
type Range struct {
	Start int
	End   int
}

func (r Range) valid() bool {
	return r.End > r.Start
}

// Stats summarises one refresh.
type Stats struct {
	Fetched      int
	Updated      int
	Stale        int
	Missing      int
	DecodeErrors int
	FetchErrors  int
	Slot         uint64
}

func (s *Stats) merge(o Stats) {
	s.Fetched += o.Fetched
	s.Updated += o.Updated
	s.Stale += o.Stale
	s.Missing += o.Missing
	s.DecodeErrors += o.DecodeErrors
	s.FetchErrors += o.FetchErrors
	if o.Slot > s.Slot {
		s.Slot = o.Slot
	}
}

// Poller writes decoded pool states into a Store. Each address is written by
// exactly one worker per refresh, via the store's atomic replace.
type Poller struct {
	cfg     Config
	addrs   []pool.Address
	reader  AccountReader
	decoder *pool.Decoder
	store   *pool.Store
	logger  *zap.Logger
	metrics *pollerMetrics
}

// New creates a poller for the configured pools.
func New(cfg Config, reader AccountReader, decoder *pool.Decoder, store *pool.Store, logger *zap.Logger, reg prometheus.Registerer) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil || store == nil {
		return nil, errors.New("account reader and store must not be nil")
	}
	addrs, err := cfg.Addresses()
	if err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = pool.NewDecoder(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:     cfg,
		addrs:   addrs,
		reader:  reader,
		decoder: decoder,
		store:   store,
		logger:  logger,
		metrics: newPollerMetrics(reg),
	}, nil
}

// Run refreshes on every interval until ctx is cancelled. Refresh failures
// are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		stats, err := p.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("pool refresh incomplete", zap.Error(err), zap.Int("fetch_errors", stats.FetchErrors))
		} else {
			p.logger.Debug("pools refreshed",
				zap.Int("updated", stats.Updated),
				zap.Int("decode_errors", stats.DecodeErrors),
				zap.Uint64("slot", stats.Slot),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh reads every configured pool once. A failed batch does not stop the
// others; its error is joined into the result.
func (p *Poller) Refresh(ctx context.Context) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	workCh := make(chan Range)

	g.Go(func() error {
		defer close(workCh)
		for start := 0; start < len(p.addrs); start += p.cfg.BatchSize {
			rng := Range{Start: start, End: min(start+p.cfg.BatchSize, len(p.addrs))}
			if !rng.valid() {
				return fmt.Errorf("invalid range produced: start=%d end=%d", rng.Start, rng.End)
			}
			select {
			case workCh <- rng:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var (
		mu       sync.Mutex
		total    Stats
		batchErr []error
	)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			for rng := range workCh {
				stats, err := p.refreshRange(ctx, rng)
				mu.Lock()
				total.merge(stats)
				if err != nil {
					batchErr = append(batchErr, fmt.Errorf("range %d-%d: %w", rng.Start, rng.End, err))
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, errors.Join(batchErr...)
}

func (p *Poller) refreshRange(ctx context.Context, rng Range) (Stats, error) {
	var stats Stats
	batch := p.addrs[rng.Start:rng.End]

	accounts, slot, err := p.reader.GetAccounts(ctx, batch)
	p.metrics.recordFetch(err)
	if err != nil {
		stats.FetchErrors = len(batch)
		return stats, err
	}
	stats.Slot = slot
	stats.Fetched = len(accounts)
	stats.Missing = len(batch) - len(accounts)

	for _, acc := range accounts {
		st, err := p.decoder.DecodeOwned(acc.Owner.String(), acc.Address, acc.Data, slot)
		if err != nil {
			stats.DecodeErrors++
			p.metrics.recordDecodeError()
			p.logger.Warn("decode pool", zap.Stringer("pool", acc.Address), zap.Error(err))
			continue
		}
		if p.store.Put(st) {
			stats.Updated++
		} else {
			stats.Stale++
		}
	}
	return stats, nil
}

type pollerMetrics struct {
	fetches      prometheus.Counter
	fetchErrors  prometheus.Counter
	decodeErrors prometheus.Counter
}

func newPollerMetrics(reg prometheus.Registerer) *pollerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &pollerMetrics{
		fetches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "poller",
			Name:      observability.MetricPollerFetchTotal,
			Help:      "Batched account reads issued by the poller.",
		}),
		fetchErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "poller",
			Name:      observability.MetricPollerFetchErrors,
			Help:      "Batched account reads that failed.",
		}),
		decodeErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "poller",
			Name:      observability.MetricIngestorDecodeErrors,
			Help:      "Pool accounts that failed to decode.",
		}),
	}
}

func (m *pollerMetrics) recordFetch(err error) {
	if m == nil {
		return
	}
	m.fetches.Inc()
	if err != nil {
		m.fetchErrors.Inc()
	}
}

func (m *pollerMetrics) recordDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}
