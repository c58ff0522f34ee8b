package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/pool"
)

var (
	sol  = pool.MustParseAddress(common.MintSOL)
	usdc = pool.MustParseAddress(common.MintUSDC)
	ray  = pool.MustParseAddress(common.MintRAY)
)

func mk(id byte, a, b pool.Address, ra, rb uint64) pool.State {
	var addr pool.Address
	addr[0] = id
	return pool.State{Address: addr, Venue: pool.VenueRaydiumAMM, MintA: a, MintB: b, ReserveA: ra, ReserveB: rb, FeeBps: 25}
}

func TestEnumerateTriangle(t *testing.T) {
	pools := []pool.State{
		mk(1, sol, usdc, 1_000, 150_000),
		mk(2, usdc, ray, 150_000, 75_000),
		mk(3, ray, sol, 75_000, 1_000),
	}

	routes := Enumerate(pools, 3)
	// 3 pools x 2 directions, each closing one triangle; no 2-leg cycles.
	require.Len(t, routes, 6)
	for _, r := range routes {
		require.NoError(t, r.Validate())
		assert.Equal(t, 3, r.Len())
		m := r.Mints()
		assert.Equal(t, m[0], m[len(m)-1])
	}

	assert.Empty(t, Enumerate(pools, 2))
}

func TestEnumerateTwoLeg(t *testing.T) {
	pools := []pool.State{
		mk(1, sol, usdc, 1_000, 150_000),
		mk(2, usdc, sol, 151_000, 1_000),
		mk(3, ray, usdc, 10, 10),
	}

	routes := Enumerate(pools, 2)
	// two homes x two pool orders
	require.Len(t, routes, 4)
	for _, r := range routes {
		require.NoError(t, r.Validate())
		assert.NotEqual(t, r.Legs[0].Pool.Address, r.Legs[1].Pool.Address)
	}
}

func TestEnumerateSkipsDegenerate(t *testing.T) {
	pools := []pool.State{
		mk(1, sol, usdc, 1_000, 150_000),
		mk(2, usdc, ray, 0, 75_000),
		mk(3, ray, sol, 75_000, 1_000),
	}
	assert.Empty(t, Enumerate(pools, 3))
	assert.Empty(t, Enumerate(pools, 1))
}

func TestRouteAccessors(t *testing.T) {
	r := Route{Legs: []Leg{
		{Pool: mk(1, sol, usdc, 1_000, 150_000), AToB: true},
		{Pool: mk(2, usdc, ray, 150_000, 75_000), AToB: true},
		{Pool: mk(3, ray, sol, 75_000, 900), AToB: true},
	}}
	require.NoError(t, r.Validate())

	assert.Equal(t, sol, r.Home())
	assert.Equal(t, []pool.Address{sol, usdc, ray, sol}, r.Mints())
	assert.Equal(t, uint64(900), r.SmallestReserve())
	assert.Equal(t, "SOL->USDC->RAY->SOL", r.Label(common.NewInMemoryMintMetadataProvider()))
	assert.Len(t, r.Pools(), 3)
	assert.Contains(t, r.Key(), ":ab|")
}

func TestRouteValidate(t *testing.T) {
	p1 := mk(1, sol, usdc, 1, 1)
	p2 := mk(2, usdc, ray, 1, 1)

	assert.ErrorIs(t, Route{Legs: []Leg{{Pool: p1, AToB: true}}}.Validate(), ErrTooFewLegs)
	assert.ErrorIs(t, Route{Legs: make([]Leg, 4)}.Validate(), ErrTooManyLegs)
	assert.ErrorIs(t, Route{Legs: []Leg{{Pool: p1, AToB: true}, {Pool: p2, AToB: false}}}.Validate(), ErrBrokenPath)
	assert.ErrorIs(t, Route{Legs: []Leg{{Pool: p1, AToB: true}, {Pool: p2, AToB: true}}}.Validate(), ErrOpenPath)
}

func TestEnumerateFromHome(t *testing.T) {
	pools := []pool.State{
		mk(1, sol, usdc, 1_000, 150_000),
		mk(2, usdc, ray, 150_000, 75_000),
		mk(3, ray, sol, 75_000, 1_000),
	}

	routes := EnumerateFrom(pools, sol, 3)
	require.Len(t, routes, 2)
	for _, r := range routes {
		assert.Equal(t, sol, r.Home())
	}
	assert.NotEqual(t, routes[0].Key(), routes[1].Key())
}
