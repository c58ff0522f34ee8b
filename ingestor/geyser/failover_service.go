package geyser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/observability"
)

// FailoverService coordinates a primary/fallback client pair and feeds updates
// through a shared processor. When the active stream reports an error the
// service moves to the other client.
type FailoverService struct {
	primary   ClientInterface
	fallback  ClientInterface
	processor *Processor
	metrics   *failoverMetrics
	logger    *zap.Logger

	primaryRetryDelay  time.Duration
	fallbackRetryDelay time.Duration
}

// NewFailoverService constructs a failover service. When fallback is nil the
// service retries the primary alone.
func NewFailoverService(primary, fallback ClientInterface, processor *Processor, logger *zap.Logger, reg prometheus.Registerer) (*FailoverService, error) {
	if primary == nil {
		return nil, errors.New("primary client is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverService{
		primary:            primary,
		fallback:           fallback,
		processor:          processor,
		metrics:            newFailoverMetrics(reg),
		logger:             logger,
		primaryRetryDelay:  5 * time.Second,
		fallbackRetryDelay: 3 * time.Second,
	}, nil
}

// Run executes the failover loop until the context is cancelled.
func (s *FailoverService) Run(ctx context.Context) error {
	clients := []ClientInterface{s.primary}
	if s.fallback != nil {
		clients = append(clients, s.fallback)
	}

	current := 0
	for {
		client := clients[current]
		s.metrics.setActive(current + 1)

		start := time.Now()
		err := s.runClient(ctx, client)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.metrics.recordFailure(client.Name())
			s.logger.Warn("stream ended",
				zap.String("source", client.Name()),
				zap.Duration("after", time.Since(start).Round(time.Millisecond)),
				zap.Error(err),
			)
		}

		current = (current + 1) % len(clients)
		delay := s.fallbackRetryDelay
		if current == 0 {
			delay = s.primaryRetryDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *FailoverService) runClient(ctx context.Context, client ClientInterface) error {
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", client.Name(), err)
	}
	defer client.Close()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, errs := client.Subscribe(streamCtx)
	return consume(streamCtx, s.processor, updates, errs, func(err error) error {
		return err
	})
}

type failoverMetrics struct {
	activeSource prometheus.Gauge
	failures     *prometheus.CounterVec
}

func newFailoverMetrics(reg prometheus.Registerer) *failoverMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &failoverMetrics{
		activeSource: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricIngestorActiveSource,
			Help:      "Indicates which ingest source is currently active (1=primary, 2=fallback)",
		}),
		failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricIngestorSourceFailures,
			Help:      "Count of stream failures per ingest source.",
		}, []string{"source"}),
	}
}

func (m *failoverMetrics) setActive(position int) {
	if m == nil {
		return
	}
	m.activeSource.Set(float64(position))
}

func (m *failoverMetrics) recordFailure(source string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(source).Inc()
}
