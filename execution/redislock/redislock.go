// Package redislock provides a PoolLocker shared across engine processes,
// backed by Redis SETNX with a TTL and a token-checked unlock.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/pool"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const defaultPrefix = "arb:lock:pool:"

// Locker locks every pool of a route. A held pool makes Acquire release
// what it took and retry every RetryInterval until ctx is done. With a zero
// RetryInterval Acquire fails fast with execution.ErrLockHeld.
type Locker struct {
	rdb           redis.UniversalClient
	unlock        *redis.Script
	ttl           time.Duration
	prefix        string
	RetryInterval time.Duration
}

// New creates a Locker whose keys expire after ttl.
func New(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{
		rdb:           rdb,
		unlock:        redis.NewScript(unlockLua),
		ttl:           ttl,
		prefix:        defaultPrefix,
		RetryInterval: 50 * time.Millisecond,
	}
}

func (l *Locker) key(addr pool.Address) string {
	return l.prefix + addr.String()
}

func (l *Locker) Acquire(ctx context.Context, pools []pool.Address) (func(), error) {
	for {
		release, err := l.tryAcquire(ctx, pools)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, execution.ErrLockHeld) || l.RetryInterval <= 0 {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", execution.ErrLockHeld, ctx.Err())
		case <-time.After(l.RetryInterval):
		}
	}
}

func (l *Locker) tryAcquire(ctx context.Context, pools []pool.Address) (func(), error) {
	token := uuid.New().String()
	keys := make([]string, 0, len(pools))
	seen := make(map[pool.Address]struct{}, len(pools))

	release := func() {
		// Background context so unlock succeeds after the caller's context
		// is cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, k := range keys {
			_ = l.unlock.Run(unlockCtx, l.rdb, []string{k}, token).Err()
		}
	}

	for _, addr := range pools {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		k := l.key(addr)
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			release()
			return nil, fmt.Errorf("redis: acquire lock %s: %w", addr, err)
		}
		if !ok {
			release()
			return nil, execution.ErrLockHeld
		}
		keys = append(keys, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

var _ execution.PoolLocker = (*Locker)(nil)
