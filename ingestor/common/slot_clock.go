package common

import (
	"sync"
	"time"
)

// SlotClock tracks when slots were first seen and the chain head per
// commitment, so account updates can be judged against the head.
type SlotClock struct {
	mu        sync.RWMutex
	seen      map[uint64]time.Time
	head      uint64
	confirmed uint64
	finalized uint64
	now       func() time.Time
}

// NewSlotClock creates an empty clock using the wall clock.
func NewSlotClock() *SlotClock {
	return &SlotClock{
		seen: make(map[uint64]time.Time),
		now:  time.Now,
	}
}

// WithClock overrides the time source.
func (c *SlotClock) WithClock(now func() time.Time) *SlotClock {
	if now != nil {
		c.now = now
	}
	return c
}

// Observe records a processed slot. The first observation wins.
func (c *SlotClock) Observe(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[slot]; !ok {
		c.seen[slot] = c.now()
	}
	if slot > c.head {
		c.head = slot
	}
}

// Confirm advances the confirmed watermark.
func (c *SlotClock) Confirm(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot > c.confirmed {
		c.confirmed = slot
	}
	if slot > c.head {
		c.head = slot
	}
}

// Finalize advances the finalized watermark and forgets older slots.
func (c *SlotClock) Finalize(slot uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot > c.finalized {
		c.finalized = slot
	}
	if slot > c.confirmed {
		c.confirmed = slot
	}
	if slot > c.head {
		c.head = slot
	}
	pruned := 0
	for s := range c.seen {
		if s < slot {
			delete(c.seen, s)
			pruned++
		}
	}
	return pruned
}

// Head returns the highest slot seen at any commitment.
func (c *SlotClock) Head() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Confirmed returns the highest confirmed slot.
func (c *SlotClock) Confirmed() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirmed
}

// Finalized returns the highest finalized slot.
func (c *SlotClock) Finalized() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalized
}

// Lag is how many slots slot trails the head, zero when ahead.
func (c *SlotClock) Lag(slot uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot >= c.head {
		return 0
	}
	return c.head - slot
}

// SeenAt returns when slot was first observed.
func (c *SlotClock) SeenAt(slot uint64) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.seen[slot]
	return ts, ok
}

// Size returns the number of tracked slots.
func (c *SlotClock) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}
