package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/events"
)

type rowWriter interface {
	WriteExecutions(ctx context.Context, rows []Execution) error
	WriteOpportunities(ctx context.Context, rows []Opportunity) error
	Flush(ctx context.Context) error
}

type processor struct {
	writer rowWriter
}

func newProcessor(writer rowWriter) *processor {
	return &processor{writer: writer}
}

func (p *processor) handleExecution(ctx context.Context, ev events.Execution) error {
	return p.writer.WriteExecutions(ctx, []Execution{executionRow(ev)})
}

func (p *processor) handleOpportunity(ctx context.Context, ev events.Opportunity) error {
	return p.writer.WriteOpportunities(ctx, []Opportunity{opportunityRow(ev)})
}

func executionRow(ev events.Execution) Execution {
	return Execution{
		ID:             ev.ID,
		RouteKey:       ev.RouteKey,
		HomeMint:       ev.HomeMint,
		Legs:           uint8(len(ev.Legs)),
		TradeSize:      ev.TradeSize,
		ExpectedProfit: ev.ExpectedProfit,
		RealizedProfit: ev.RealizedProfit,
		BalanceBefore:  ev.BalanceBefore,
		BalanceAfter:   ev.BalanceAfter,
		State:          ev.State,
		Aborted:        ev.Aborted,
		AbortReason:    ev.AbortReason,
		StartedAt:      ev.StartedAt,
		FinishedAt:     ev.FinishedAt,
	}
}

func opportunityRow(ev events.Opportunity) Opportunity {
	return Opportunity{
		ScannedAt:   ev.ScannedAt,
		RouteKey:    ev.RouteKey,
		HomeMint:    ev.HomeMint,
		Legs:        uint8(len(ev.Hops)),
		TradeSize:   ev.TradeSize,
		FinalAmount: ev.FinalAmount,
		TotalCost:   ev.TotalCost,
		NetProfit:   ev.NetProfit,
		ProfitBps:   ev.ProfitBps,
		Confidence:  ev.Confidence,
		Divergence:  ev.Divergence,
		Stale:       ev.Stale,
	}
}

// Service pulls engine records from JetStream into ClickHouse.
type Service struct {
	cfg       ServiceConfig
	conn      *nats.Conn
	sub       *nats.Subscription
	processor *processor
	logger    *zap.Logger
}

func NewService(ctx context.Context, cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer, err := NewWithConfig(ctx, cfg.Writer)
	if err != nil {
		return nil, err
	}
	if err := writer.EnsureTables(ctx); err != nil {
		return nil, err
	}

	conn, sub, err := cfg.Source.Subscribe(cfg.Source.SubjectRoot + ".>")
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		conn:      conn,
		sub:       sub,
		processor: newProcessor(writer),
		logger:    logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(s.cfg.Writer.FlushInterval)
	defer flushTicker.Stop()
	defer s.conn.Drain()
	defer s.processor.writer.Flush(context.Background())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flushTicker.C:
			if err := s.processor.writer.Flush(ctx); err != nil {
				return err
			}
		default:
		}

		msgs, err := s.sub.Fetch(s.cfg.Source.PullBatch, nats.MaxWait(s.cfg.Source.PullTimeout))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("fetch messages: %w", err)
		}

		for _, msg := range msgs {
			if err := s.processor.handleMessage(ctx, msg.Subject, msg.Data); err != nil {
				s.logger.Error("sink write failed", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Nak()
				return err
			}
			_ = msg.Ack()
		}
	}
}

func (p *processor) handleMessage(ctx context.Context, subject string, data []byte) error {
	switch {
	case strings.HasSuffix(subject, "."+string(events.KindExecution)):
		var ev events.Execution
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal execution: %w", err)
		}
		return p.handleExecution(ctx, ev)
	case strings.HasSuffix(subject, "."+string(events.KindOpportunity)):
		var ev events.Opportunity
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal opportunity: %w", err)
		}
		return p.handleOpportunity(ctx, ev)
	default:
		// Pool snapshots are not stored here but must be acked.
		return nil
	}
}
