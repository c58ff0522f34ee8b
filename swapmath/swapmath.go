// Package swapmath simulates constant-product swaps with the fee taken from
// the input amount.
package swapmath

import (
	"errors"
	"math"

	"github.com/holiman/uint256"

	"github.com/rexbrahh/amm-arb/pool"
)

// BpsDenominator is the number of basis points in one unit.
const BpsDenominator = 10_000

var (
	// ErrOverflow reports an intermediate or result that does not fit the
	// checked width. It is fatal to the route candidate only.
	ErrOverflow = errors.New("swapmath: arithmetic overflow")
	// ErrInvalidFee reports a fee above 10000 bps.
	ErrInvalidFee = errors.New("swapmath: fee exceeds 10000 bps")
)

var (
	bpsDenom = uint256.NewInt(BpsDenominator)
)

// ExactOutput returns the output of swapping amountIn against a pool holding
// reserveIn/reserveOut:
//
//	net = amountIn * (10000 - fee)
//	out = floor(net * reserveOut / (reserveIn*10000 + net))
//
// Zero reserves or a zero amount yield 0 with no error. The result is always
// strictly below reserveOut and non-decreasing in amountIn.
func ExactOutput(reserveIn, reserveOut, amountIn uint64, feeBps uint16) (uint64, error) {
	if feeBps > BpsDenominator {
		return 0, ErrInvalidFee
	}
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 {
		return 0, nil
	}

	net := new(uint256.Int).Mul(uint256.NewInt(amountIn), uint256.NewInt(uint64(BpsDenominator-feeBps)))
	if net.IsZero() {
		return 0, nil
	}

	numerator := new(uint256.Int).Mul(net, uint256.NewInt(reserveOut))
	if numerator.BitLen() > 128 {
		return 0, ErrOverflow
	}

	denominator := new(uint256.Int).Mul(uint256.NewInt(reserveIn), bpsDenom)
	denominator.Add(denominator, net)
	if denominator.BitLen() > 128 {
		return 0, ErrOverflow
	}

	out := new(uint256.Int).Div(numerator, denominator)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}

// Swap runs ExactOutput through st in the given direction.
func Swap(st pool.State, amountIn uint64, aToB bool) (uint64, error) {
	reserveIn, reserveOut := st.Reserves(aToB)
	return ExactOutput(reserveIn, reserveOut, amountIn, st.FeeBps)
}

// PriceImpact returns the percentage deviation of the executed price from the
// pool's spot price, both expressed as input units per output unit. It
// returns 100 when the swap produces nothing or the pool is degenerate.
func PriceImpact(st pool.State, amountIn uint64, aToB bool) float64 {
	reserveIn, reserveOut := st.Reserves(aToB)
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 {
		return 100
	}
	out, err := ExactOutput(reserveIn, reserveOut, amountIn, st.FeeBps)
	if err != nil || out == 0 {
		return 100
	}

	spot := float64(reserveIn) / float64(reserveOut)
	executed := float64(amountIn) / float64(out)
	impact := math.Abs(executed-spot) / spot * 100
	if math.IsNaN(impact) || math.IsInf(impact, 0) {
		return 100
	}
	return impact
}

// SpotRate returns output units per input unit at the pool's current
// reserves, ignoring fees. Zero for degenerate pools.
func SpotRate(st pool.State, aToB bool) float64 {
	reserveIn, reserveOut := st.Reserves(aToB)
	if reserveIn == 0 || reserveOut == 0 {
		return 0
	}
	return float64(reserveOut) / float64(reserveIn)
}

// MulBps returns floor(amount * bps / 10000) with a checked intermediate.
func MulBps(amount uint64, bps uint64) (uint64, error) {
	v := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(bps))
	v.Div(v, bpsDenom)
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// AddChecked returns a+b or ErrOverflow.
func AddChecked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MulChecked returns a*b or ErrOverflow.
func MulChecked(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}
