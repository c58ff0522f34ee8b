package pool

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
)

// Store holds the latest State per pool address. Each address owns an atomic
// pointer that refreshes replace wholesale; the map itself only grows when a
// new address is first seen.
type Store struct {
	mu      sync.RWMutex
	entries map[Address]*atomic.Pointer[State]
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[Address]*atomic.Pointer[State])}
}

func (s *Store) slot(addr Address, create bool) *atomic.Pointer[State] {
	s.mu.RLock()
	p := s.entries[addr]
	s.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p = s.entries[addr]; p == nil {
		p = new(atomic.Pointer[State])
		s.entries[addr] = p
	}
	return p
}

// Put stores st as the latest state for its address. States older than the
// stored one (by slot, when both carry a slot) are ignored; Put reports
// whether st was stored.
func (s *Store) Put(st State) bool {
	p := s.slot(st.Address, true)
	next := &st
	for {
		cur := p.Load()
		if cur != nil && cur.Slot != 0 && st.Slot != 0 && st.Slot < cur.Slot {
			return false
		}
		if p.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Get returns the latest state for addr.
func (s *Store) Get(addr Address) (State, bool) {
	p := s.slot(addr, false)
	if p == nil {
		return State{}, false
	}
	st := p.Load()
	if st == nil {
		return State{}, false
	}
	return *st, true
}

// Delete forgets addr.
func (s *Store) Delete(addr Address) {
	s.mu.Lock()
	delete(s.entries, addr)
	s.mu.Unlock()
}

// Len returns the number of addresses holding a state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.entries {
		if p.Load() != nil {
			n++
		}
	}
	return n
}

// Addresses returns the tracked addresses in byte order.
func (s *Store) Addresses() []Address {
	s.mu.RLock()
	out := make([]Address, 0, len(s.entries))
	for addr := range s.entries {
		out = append(out, addr)
	}
	s.mu.RUnlock()
	sortAddresses(out)
	return out
}

// Snapshot copies every stored state, ordered by address. A scan works on one
// snapshot for its whole duration so refreshes landing mid-scan are not mixed
// into a route.
func (s *Store) Snapshot() []State {
	s.mu.RLock()
	out := make([]State, 0, len(s.entries))
	for _, p := range s.entries {
		if st := p.Load(); st != nil {
			out = append(out, *st)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

func sortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}
