package execution

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rexbrahh/amm-arb/pool"
)

// ErrLockHeld is returned by non-blocking lockers when a pool is taken.
var ErrLockHeld = errors.New("pool lock already held")

// PoolLocker serialises executions that share a pool. Acquire returns a
// release func that is safe to call more than once.
type PoolLocker interface {
	Acquire(ctx context.Context, pools []pool.Address) (func(), error)
}

// LocalLocker is an in-process PoolLocker. Acquire blocks until every pool is
// free or ctx is done. Pools are locked in byte order so overlapping sets
// cannot deadlock.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[pool.Address]chan struct{}
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[pool.Address]chan struct{})}
}

func (l *LocalLocker) slot(addr pool.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[addr]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[addr] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, pools []pool.Address) (func(), error) {
	ordered := uniqueSorted(pools)
	held := make([]chan struct{}, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
		held = held[:0]
	}

	for _, addr := range ordered {
		ch := l.slot(addr)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			releaseAll()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func uniqueSorted(pools []pool.Address) []pool.Address {
	out := append([]pool.Address(nil), pools...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	n := 0
	for i, addr := range out {
		if i > 0 && addr == out[n-1] {
			continue
		}
		out[n] = addr
		n++
	}
	return out[:n]
}
