// Package route models closed multi-leg swap paths over pool states.
package route

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/pool"
)

const (
	MinLegs = 2
	MaxLegs = 3
)

// Leg is one single-pool swap.
type Leg struct {
	Pool pool.State
	AToB bool
}

// MintIn is the mint the leg consumes.
func (l Leg) MintIn() pool.Address {
	in, _ := l.Pool.MintsFor(l.AToB)
	return in
}

// MintOut is the mint the leg produces.
func (l Leg) MintOut() pool.Address {
	_, out := l.Pool.MintsFor(l.AToB)
	return out
}

// Route is an ordered 2 or 3 leg path that starts and ends on the same mint.
type Route struct {
	Legs []Leg
}

var (
	ErrTooFewLegs  = errors.New("route: fewer than 2 legs")
	ErrTooManyLegs = errors.New("route: more than 3 legs")
	ErrBrokenPath  = errors.New("route: consecutive legs do not share a mint")
	ErrOpenPath    = errors.New("route: path does not return to its home mint")
)

// Validate checks the route invariants.
func (r Route) Validate() error {
	switch {
	case len(r.Legs) < MinLegs:
		return ErrTooFewLegs
	case len(r.Legs) > MaxLegs:
		return ErrTooManyLegs
	}
	for i := 1; i < len(r.Legs); i++ {
		if r.Legs[i-1].MintOut() != r.Legs[i].MintIn() {
			return fmt.Errorf("%w: leg %d", ErrBrokenPath, i)
		}
	}
	if r.Legs[len(r.Legs)-1].MintOut() != r.Home() {
		return ErrOpenPath
	}
	return nil
}

// Len is the number of legs.
func (r Route) Len() int {
	return len(r.Legs)
}

// Home is the mint the route starts and ends with.
func (r Route) Home() pool.Address {
	if len(r.Legs) == 0 {
		return pool.Address{}
	}
	return r.Legs[0].MintIn()
}

// Mints returns the mint path including the closing home mint.
func (r Route) Mints() []pool.Address {
	if len(r.Legs) == 0 {
		return nil
	}
	out := make([]pool.Address, 0, len(r.Legs)+1)
	out = append(out, r.Home())
	for _, leg := range r.Legs {
		out = append(out, leg.MintOut())
	}
	return out
}

// Pools returns the pool addresses in leg order.
func (r Route) Pools() []pool.Address {
	out := make([]pool.Address, len(r.Legs))
	for i, leg := range r.Legs {
		out[i] = leg.Pool.Address
	}
	return out
}

// SmallestReserve is the shallowest reserve across every leg.
func (r Route) SmallestReserve() uint64 {
	var min uint64
	for i, leg := range r.Legs {
		if res := leg.Pool.MinReserve(); i == 0 || res < min {
			min = res
		}
	}
	return min
}

// Key identifies the route by pool order and direction.
func (r Route) Key() string {
	var b strings.Builder
	for i, leg := range r.Legs {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(leg.Pool.Address.String())
		if leg.AToB {
			b.WriteString(":ab")
		} else {
			b.WriteString(":ba")
		}
	}
	return b.String()
}

// Label renders the mint path with symbols, e.g. "SOL->USDC->RAY->SOL".
func (r Route) Label(mints common.MintMetadataProvider) string {
	path := r.Mints()
	strs := make([]string, len(path))
	for i, m := range path {
		strs[i] = m.String()
	}
	return common.PathLabel(mints, strs)
}

// Enumerate returns every closed 2 and 3 leg route over the usable pools,
// limited to maxLegs legs. No pool appears twice in a route and 3-leg routes
// visit three distinct mints. Routes are produced in a deterministic order
// derived from the input order.
func Enumerate(pools []pool.State, maxLegs int) []Route {
	return enumerate(pools, maxLegs, nil)
}

// EnumerateFrom is Enumerate restricted to routes starting and ending on home.
func EnumerateFrom(pools []pool.State, home pool.Address, maxLegs int) []Route {
	return enumerate(pools, maxLegs, &home)
}

func enumerate(pools []pool.State, maxLegs int, home *pool.Address) []Route {
	if maxLegs > MaxLegs {
		maxLegs = MaxLegs
	}
	if maxLegs < MinLegs {
		return nil
	}

	byMint := make(map[pool.Address][]int)
	for i, p := range pools {
		if !p.Usable() || p.MintA == p.MintB {
			continue
		}
		byMint[p.MintA] = append(byMint[p.MintA], i)
		byMint[p.MintB] = append(byMint[p.MintB], i)
	}

	var routes []Route
	for i, first := range pools {
		if !first.Usable() || first.MintA == first.MintB {
			continue
		}
		for _, aToB := range []bool{true, false} {
			leg1 := Leg{Pool: first, AToB: aToB}
			start, mid := leg1.MintIn(), leg1.MintOut()
			if home != nil && start != *home {
				continue
			}

			for _, j := range byMint[mid] {
				if j == i {
					continue
				}
				second := pools[j]
				dir2, _ := second.Direction(mid)
				leg2 := Leg{Pool: second, AToB: dir2}
				next := leg2.MintOut()

				if next == start {
					routes = append(routes, Route{Legs: []Leg{leg1, leg2}})
					continue
				}
				if maxLegs < 3 {
					continue
				}
				for _, k := range byMint[next] {
					if k == i || k == j {
						continue
					}
					third := pools[k]
					if !third.HasMint(start) {
						continue
					}
					dir3, _ := third.Direction(next)
					routes = append(routes, Route{Legs: []Leg{leg1, leg2, {Pool: third, AToB: dir3}}})
				}
			}
		}
	}
	return routes
}
