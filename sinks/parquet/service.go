package parquet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/events"
	natsx "github.com/rexbrahh/amm-arb/sinks/nats"
)

// ServiceConfig pairs the execution consumer with the journal writer.
type ServiceConfig struct {
	Source natsx.ConsumerConfig
	Writer Config
}

func (c ServiceConfig) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	return c.Writer.Validate()
}

// ServiceConfigFromEnv reads the S3 target and the ARB_JOURNAL_* consumer
// overrides.
func ServiceConfigFromEnv() (ServiceConfig, error) {
	source, err := natsx.ConsumerFromEnv("ARB_JOURNAL", "parquet-journal")
	if err != nil {
		return ServiceConfig{}, err
	}
	writer, err := FromEnv()
	if err != nil {
		return ServiceConfig{}, err
	}
	return ServiceConfig{Source: source, Writer: writer}, nil
}

// Service pulls execution records from JetStream into the journal.
type Service struct {
	cfg       ServiceConfig
	conn      *nats.Conn
	sub       *nats.Subscription
	writer    *Writer
	flushTick *time.Ticker
	logger    *zap.Logger
}

func NewService(cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	writer, err := NewWriter(cfg.Writer)
	if err != nil {
		return nil, err
	}

	conn, sub, err := cfg.Source.Subscribe(cfg.Source.Subject(events.KindExecution))
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		conn:      conn,
		sub:       sub,
		writer:    writer,
		flushTick: time.NewTicker(cfg.Writer.FlushInterval),
		logger:    logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer s.flushTick.Stop()
	defer s.conn.Drain()
	defer s.writer.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.flushTick.C:
			if err := s.writer.Flush(ctx); err != nil {
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
			if err := s.handleMessage(ctx, msg.Data); err != nil {
				s.logger.Error("journal append failed", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Nak()
				return err
			}
			_ = msg.Ack()
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, data []byte) error {
	var exec events.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return fmt.Errorf("unmarshal execution: %w", err)
	}
	return s.writer.AppendExecution(ctx, exec)
}
