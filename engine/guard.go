package engine

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDailyTradeLimit blocks execution once the day's trade count is spent.
	ErrDailyTradeLimit = errors.New("daily trade limit reached")
	// ErrStopLoss blocks execution once the day's realized loss reaches the stop.
	ErrStopLoss = errors.New("stop loss reached")
)

// Guard enforces the daily trade cap and stop loss. Counters reset at UTC
// midnight. A zero limit disables the corresponding check.
type Guard struct {
	maxTrades int
	stopLoss  uint64

	mu     sync.Mutex
	day    time.Time
	trades int
	pnl    int64
}

// NewGuard builds a guard for the given limits.
func NewGuard(maxTrades int, stopLoss uint64) *Guard {
	return &Guard{maxTrades: maxTrades, stopLoss: stopLoss}
}

// Allow reports whether another execution may start at now.
func (g *Guard) Allow(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll(now)

	if g.maxTrades > 0 && g.trades >= g.maxTrades {
		return ErrDailyTradeLimit
	}
	if g.stopLoss > 0 && g.pnl < 0 && uint64(-g.pnl) >= g.stopLoss {
		return ErrStopLoss
	}
	return nil
}

// Record counts one execution and its realized profit.
func (g *Guard) Record(now time.Time, realized int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll(now)
	g.trades++
	g.pnl += realized
}

// Today returns the current day's trade count and realized profit.
func (g *Guard) Today(now time.Time) (int, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll(now)
	return g.trades, g.pnl
}

func (g *Guard) roll(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(g.day) {
		g.day = day
		g.trades = 0
		g.pnl = 0
	}
}
