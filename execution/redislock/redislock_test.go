package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/pool"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Minute), mr
}

func addr(b byte) pool.Address {
	var a pool.Address
	a[0] = b
	return a
}

func TestAcquireAndRelease(t *testing.T) {
	l, mr := newLocker(t)
	l.RetryInterval = 0
	ctx := context.Background()

	release, err := l.Acquire(ctx, []pool.Address{addr(1), addr(2), addr(1)})
	require.NoError(t, err)
	assert.True(t, mr.Exists(l.key(addr(1))))
	assert.True(t, mr.Exists(l.key(addr(2))))
	assert.Equal(t, time.Minute, mr.TTL(l.key(addr(1))))

	_, err = l.Acquire(ctx, []pool.Address{addr(3), addr(2)})
	assert.ErrorIs(t, err, execution.ErrLockHeld)
	assert.False(t, mr.Exists(l.key(addr(3))), "partial acquisition is rolled back")

	release()
	release()
	assert.False(t, mr.Exists(l.key(addr(1))))

	release2, err := l.Acquire(ctx, []pool.Address{addr(3), addr(2)})
	require.NoError(t, err)
	release2()
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newLocker(t)
	l.RetryInterval = 0

	release, err := l.Acquire(context.Background(), []pool.Address{addr(1)})
	require.NoError(t, err)

	// the key expired and another process took it
	require.NoError(t, mr.Set(l.key(addr(1)), "someone-else"))
	release()

	got, err := mr.Get(l.key(addr(1)))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestAcquireWaitsUntilContextDone(t *testing.T) {
	l, _ := newLocker(t)
	l.RetryInterval = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), []pool.Address{addr(1)})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, []pool.Address{addr(1)})
	assert.ErrorIs(t, err, execution.ErrLockHeld)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireSucceedsOnceReleased(t *testing.T) {
	l, _ := newLocker(t)
	l.RetryInterval = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), []pool.Address{addr(1)})
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	release2, err := l.Acquire(ctx, []pool.Address{addr(1)})
	require.NoError(t, err)
	release2()
}
