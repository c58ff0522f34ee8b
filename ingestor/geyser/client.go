package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// headerAuth implements PerRPCCredentials for header-based API keys.
type headerAuth struct {
	header string
	token  string
}

func (a headerAuth) GetRequestMetadata(ctx context.Context, in ...string) (map[string]string, error) {
	return map[string]string{a.header: a.token}, nil
}

func (headerAuth) RequireTransportSecurity() bool {
	return true
}

// StreamOptions describes one Yellowstone-compatible account stream.
type StreamOptions struct {
	Name             string
	Endpoint         string
	AuthHeader       string
	APIKey           string
	Commitment       string
	ReconnectBackoff time.Duration
	Filter           Filter
	// Insecure dials without TLS and credentials. Only for local endpoints.
	Insecure bool
}

// Client wraps a Yellowstone Geyser gRPC connection with automatic
// reconnection. Providers exposing the same protocol differ only in options.
type Client struct {
	opts       StreamOptions
	commitment pb.CommitmentLevel
	logger     *zap.Logger

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client pb.GeyserClient
}

// NewClient creates a Geyser client from a validated Config.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("geyser config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return NewStreamClient(StreamOptions{
		Name:             "geyser",
		Endpoint:         cfg.Endpoint,
		AuthHeader:       "x-token",
		APIKey:           cfg.APIKey,
		Commitment:       cfg.Commitment,
		ReconnectBackoff: cfg.ReconnectBackoff,
		Filter:           cfg.Filter,
	}, logger)
}

// NewStreamClient creates a client for any Yellowstone-compatible endpoint.
func NewStreamClient(opts StreamOptions, logger *zap.Logger) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("stream endpoint is required")
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	level, err := commitmentLevel(opts.Commitment)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = defaultReconnectBackoff
	}
	if opts.Name == "" {
		opts.Name = "geyser"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:       opts,
		commitment: level,
		logger:     logger.With(zap.String("source", opts.Name)),
	}, nil
}

// Name identifies the source in logs and metrics.
func (c *Client) Name() string { return c.opts.Name }

// Connect establishes the gRPC connection to the endpoint.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(64 * 1024 * 1024),
		),
	}
	if c.opts.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts,
			grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})),
			grpc.WithPerRPCCredentials(headerAuth{header: c.opts.AuthHeader, token: c.opts.APIKey}),
		)
	}

	conn, err := grpc.DialContext(ctx, c.opts.Endpoint, opts...) //nolint:staticcheck // DialContext remains viable for gRPC 1.x
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.opts.Name, err)
	}

	c.conn = conn
	c.client = pb.NewGeyserClient(conn)
	return nil
}

// Subscribe streams account and slot updates until ctx is cancelled,
// reconnecting after stream failures. Stream errors are reported on the error
// channel without stopping the loop.
func (c *Client) Subscribe(ctx context.Context) (<-chan *pb.SubscribeUpdate, <-chan error) {
	updateCh := make(chan *pb.SubscribeUpdate, 256)
	errCh := make(chan error, 1)

	go c.subscribeLoop(ctx, updateCh, errCh)

	return updateCh, errCh
}

func (c *Client) subscribeLoop(ctx context.Context, updateCh chan<- *pb.SubscribeUpdate, errCh chan<- error) {
	defer close(updateCh)
	defer close(errCh)

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		sendErr(errCh, errors.New("subscribe before connect"))
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		lastSlot, err := c.runStream(ctx, client, updateCh)
		if err != nil {
			c.logger.Warn("stream ended", zap.Uint64("last_slot", lastSlot), zap.Error(err))
			sendErr(errCh, err)
		} else {
			c.logger.Info("stream closed by server", zap.Uint64("last_slot", lastSlot))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectBackoff):
		}
	}
}

func (c *Client) runStream(ctx context.Context, client pb.GeyserClient, updateCh chan<- *pb.SubscribeUpdate) (uint64, error) {
	stream, err := client.Subscribe(ctx)
	if err != nil {
		return 0, fmt.Errorf("subscribe failed: %w", err)
	}
	if err := stream.Send(c.buildSubscribeRequest()); err != nil {
		return 0, fmt.Errorf("send request failed: %w", err)
	}
	c.logger.Info("subscribed",
		zap.Int("programs", len(c.opts.Filter.Programs)),
		zap.Int("accounts", len(c.opts.Filter.Accounts)),
	)

	var lastSlot uint64
	for {
		update, err := stream.Recv()
		if err == io.EOF {
			return lastSlot, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return lastSlot, nil
			}
			return lastSlot, fmt.Errorf("stream recv failed: %w", err)
		}

		if slot := extractSlotFromUpdate(update); slot > lastSlot {
			lastSlot = slot
		}

		select {
		case updateCh <- update:
		case <-ctx.Done():
			return lastSlot, nil
		}
	}
}

// buildSubscribeRequest constructs an account subscription: one owner filter
// per venue program plus one filter for explicitly pinned pools.
func (c *Client) buildSubscribeRequest() *pb.SubscribeRequest {
	accounts := make(map[string]*pb.SubscribeRequestFilterAccounts)

	for name, programID := range c.opts.Filter.Programs {
		accounts[name] = &pb.SubscribeRequestFilterAccounts{
			Account: []string{},
			Owner:   []string{programID},
			Filters: []*pb.SubscribeRequestFilterAccountsFilter{},
		}
	}
	if len(c.opts.Filter.Accounts) > 0 {
		accounts["pools"] = &pb.SubscribeRequestFilterAccounts{
			Account: append([]string(nil), c.opts.Filter.Accounts...),
			Owner:   []string{},
			Filters: []*pb.SubscribeRequestFilterAccountsFilter{},
		}
	}

	commitment := c.commitment
	return &pb.SubscribeRequest{
		Slots: map[string]*pb.SubscribeRequestFilterSlots{
			"client": {},
		},
		Accounts:           accounts,
		Transactions:       map[string]*pb.SubscribeRequestFilterTransactions{},
		TransactionsStatus: map[string]*pb.SubscribeRequestFilterTransactions{},
		Entry:              map[string]*pb.SubscribeRequestFilterEntry{},
		Blocks:             map[string]*pb.SubscribeRequestFilterBlocks{},
		BlocksMeta:         map[string]*pb.SubscribeRequestFilterBlocksMeta{},
		AccountsDataSlice:  []*pb.SubscribeRequestAccountsDataSlice{},
		Commitment:         &commitment,
	}
}

// extractSlotFromUpdate extracts the slot number from various update types
func extractSlotFromUpdate(update *pb.SubscribeUpdate) uint64 {
	switch u := update.GetUpdateOneof().(type) {
	case *pb.SubscribeUpdate_Slot:
		return u.Slot.GetSlot()
	case *pb.SubscribeUpdate_Account:
		return u.Account.GetSlot()
	case *pb.SubscribeUpdate_BlockMeta:
		return u.BlockMeta.GetSlot()
	default:
		return 0
	}
}

// Close shuts down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.client = nil
	return err
}

func commitmentLevel(name string) (pb.CommitmentLevel, error) {
	switch name {
	case "processed":
		return pb.CommitmentLevel_PROCESSED, nil
	case "confirmed", "":
		return pb.CommitmentLevel_CONFIRMED, nil
	case "finalized":
		return pb.CommitmentLevel_FINALIZED, nil
	default:
		return 0, fmt.Errorf("unsupported commitment %q", name)
	}
}

func sendErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}
