package geyser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// ClientInterface captures the subset of a stream client used by the services.
type ClientInterface interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan *pb.SubscribeUpdate, <-chan error)
	Close() error
	Name() string
}

// Service feeds a single stream client into a processor.
type Service struct {
	client    ClientInterface
	processor *Processor
	logger    *zap.Logger
}

// NewService pairs a client with the processor that maintains the pool store.
func NewService(client ClientInterface, processor *Processor, logger *zap.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("stream client is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, processor: processor, logger: logger}, nil
}

// Run connects, processes updates and blocks until the context is cancelled
// or the stream ends. Transient stream errors are logged; the client
// reconnects on its own.
func (s *Service) Run(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", s.client.Name(), err)
	}
	defer s.client.Close()

	updates, errs := s.client.Subscribe(ctx)
	return consume(ctx, s.processor, updates, errs, func(err error) error {
		s.logger.Warn("stream error", zap.String("source", s.client.Name()), zap.Error(err))
		return nil
	})
}

// consume drains updates into the processor. onErr decides whether a stream
// error ends the loop.
func consume(ctx context.Context, processor *Processor, updates <-chan *pb.SubscribeUpdate, errs <-chan error, onErr func(error) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if stop := onErr(err); stop != nil {
				return stop
			}
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("update stream closed")
			}
			if err := processor.HandleUpdate(ctx, update); err != nil {
				return err
			}
		}
	}
}
