package geyser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rexbrahh/amm-arb/pool"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// stubClient implements ClientInterface for service tests.
type stubClient struct {
	name        string
	connectErr  error
	subscribeFn func(context.Context) (<-chan *pb.SubscribeUpdate, <-chan error)

	mu           sync.Mutex
	connectCount int
	closeCount   int
}

func (s *stubClient) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectCount++
	return s.connectErr
}

func (s *stubClient) Subscribe(ctx context.Context) (<-chan *pb.SubscribeUpdate, <-chan error) {
	if s.subscribeFn == nil {
		return nil, nil
	}
	return s.subscribeFn(ctx)
}

func (s *stubClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCount, s.closeCount
}

func TestFailoverServiceSwitchesToFallback(t *testing.T) {
	var fallbackInvoked sync.Once
	done := make(chan struct{})

	primary := &stubClient{
		name: "geyser",
		subscribeFn: func(context.Context) (<-chan *pb.SubscribeUpdate, <-chan error) {
			updates := make(chan *pb.SubscribeUpdate)
			errs := make(chan error, 1)
			errs <- errors.New("primary stream failed")
			return updates, errs
		},
	}

	target := testAddr(9)
	fallback := &stubClient{
		name: "helius",
		subscribeFn: func(ctx context.Context) (<-chan *pb.SubscribeUpdate, <-chan error) {
			updates := make(chan *pb.SubscribeUpdate, 1)
			errs := make(chan error)
			updates <- accountUpdate(target, pool.VenueRaydiumAMM.ProgramID(), raydiumData(10, 20), 5)
			go func() {
				<-ctx.Done()
				close(updates)
			}()
			return updates, errs
		},
	}

	store := pool.NewStore()
	proc := NewProcessor(nil, store, nil, nil, prometheus.NewRegistry())
	proc.OnUpdate(func(pool.State) {
		fallbackInvoked.Do(func() { close(done) })
	})

	reg := prometheus.NewRegistry()
	svc, err := NewFailoverService(primary, fallback, proc, nil, reg)
	if err != nil {
		t.Fatalf("NewFailoverService() error = %v", err)
	}
	svc.primaryRetryDelay = 5 * time.Millisecond
	svc.fallbackRetryDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-done:
		cancel()
	case <-time.After(time.Second):
		cancel()
		t.Fatal("fallback was not invoked within timeout")
	}

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	if n, _ := primary.counts(); n == 0 {
		t.Fatal("primary client was never connected")
	}
	if n, closed := fallback.counts(); n == 0 || closed == 0 {
		t.Fatalf("fallback connect=%d close=%d", n, closed)
	}
	if _, ok := store.Get(target); !ok {
		t.Fatal("fallback update did not reach the store")
	}
	if got := testutil.ToFloat64(svc.metrics.failures.WithLabelValues("geyser")); got < 1 {
		t.Fatalf("expected primary failure recorded, got %v", got)
	}
}

func TestFailoverServiceRetriesPrimaryAlone(t *testing.T) {
	primary := &stubClient{name: "geyser", connectErr: errors.New("dial refused")}
	proc := NewProcessor(nil, pool.NewStore(), nil, nil, nil)

	svc, err := NewFailoverService(primary, nil, proc, nil, nil)
	if err != nil {
		t.Fatalf("NewFailoverService() error = %v", err)
	}
	svc.primaryRetryDelay = time.Millisecond
	svc.fallbackRetryDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if n, _ := primary.counts(); n < 2 {
		t.Fatalf("expected repeated connect attempts, got %d", n)
	}
}

func TestNewFailoverServiceValidates(t *testing.T) {
	if _, err := NewFailoverService(nil, nil, NewProcessor(nil, pool.NewStore(), nil, nil, nil), nil, nil); err == nil {
		t.Fatal("expected error without primary")
	}
	if _, err := NewFailoverService(&stubClient{name: "geyser"}, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error without processor")
	}
}

func TestServiceLogsStreamErrorsAndStopsOnClose(t *testing.T) {
	client := &stubClient{
		name: "geyser",
		subscribeFn: func(context.Context) (<-chan *pb.SubscribeUpdate, <-chan error) {
			updates := make(chan *pb.SubscribeUpdate, 2)
			errs := make(chan error, 1)
			errs <- errors.New("transient")
			updates <- slotUpdate(42, pb.SlotStatus_SLOT_PROCESSED)
			close(updates)
			return updates, errs
		},
	}
	proc := NewProcessor(nil, pool.NewStore(), nil, nil, nil)
	svc, err := NewService(client, proc, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	err = svc.Run(context.Background())
	if err == nil || err.Error() != "update stream closed" {
		t.Fatalf("expected closed stream error, got %v", err)
	}
	if proc.Slots().Head() != 42 {
		t.Fatalf("expected slot update processed, head=%d", proc.Slots().Head())
	}
	if _, closed := client.counts(); closed != 1 {
		t.Fatalf("expected client closed once, got %d", closed)
	}
}
