package common

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Q64Shift is the fractional width of the Q64.64 sqrt prices stored by
// concentrated-liquidity pools such as Orca Whirlpools.
const Q64Shift = 64

var q64One = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), Q64Shift))

// ReadU128LE reads a little-endian unsigned 128-bit integer from b[0:16].
func ReadU128LE(b []byte) *uint256.Int {
	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := binary.LittleEndian.Uint64(b[8:16])
	return &uint256.Int{lo, hi, 0, 0}
}

// SqrtPriceQ64ToFloat converts a Q64.64 sqrt price to the raw token B per token A price.
// Formula: price = (sqrt_price / 2^64)^2
func SqrtPriceQ64ToFloat(sqrtPrice *uint256.Int) float64 {
	if sqrtPrice == nil || sqrtPrice.IsZero() {
		return 0
	}
	f := new(big.Float).SetInt(sqrtPrice.ToBig())
	f.Quo(f, q64One)
	f.Mul(f, f)
	price, _ := f.Float64()
	return price
}

// FloatToSqrtPriceQ64 converts a raw price to its Q64.64 sqrt representation.
func FloatToSqrtPriceQ64(price float64) *uint256.Int {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return new(uint256.Int)
	}
	f := new(big.Float).SetFloat64(math.Sqrt(price))
	f.Mul(f, q64One)
	out := new(big.Int)
	f.Int(out)
	v, overflow := uint256.FromBig(out)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return v
}

// VirtualReserves maps concentrated liquidity at the current price onto the
// constant-product reserves that quote the same marginal price:
//
//	x = L * 2^64 / sqrtP
//	y = L * sqrtP / 2^64
//
// Values that do not fit in 64 bits saturate at math.MaxUint64.
func VirtualReserves(liquidity, sqrtPrice *uint256.Int) (x, y uint64) {
	if liquidity == nil || sqrtPrice == nil || liquidity.IsZero() || sqrtPrice.IsZero() {
		return 0, 0
	}

	num := new(uint256.Int).Lsh(liquidity, Q64Shift)
	rx := new(uint256.Int).Div(num, sqrtPrice)

	ry, overflow := new(uint256.Int).MulOverflow(liquidity, sqrtPrice)
	if overflow {
		return saturate(rx), math.MaxUint64
	}
	ry.Rsh(ry, Q64Shift)

	return saturate(rx), saturate(ry)
}

func saturate(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// ScaleAmount scales a raw token amount by its decimal places.
func ScaleAmount(amount uint64, decimals uint8) float64 {
	divisor := math.Pow(10, float64(decimals))
	return float64(amount) / divisor
}

// FormatAmount renders a raw token amount as an exact decimal string.
func FormatAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// FormatSignedAmount renders a signed raw amount (profit, delta) as a decimal string.
func FormatSignedAmount(amount int64, decimals uint8) string {
	return decimal.New(amount, -int32(decimals)).String()
}
