package orca_whirlpool

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"

	"github.com/rexbrahh/amm-arb/decoder/common"
)

func putU128(dst []byte, v *uint256.Int) {
	binary.LittleEndian.PutUint64(dst[0:8], v[0])
	binary.LittleEndian.PutUint64(dst[8:16], v[1])
}

func buildWhirlpool(feeRate uint16, liquidity uint64, price float64) []byte {
	data := make([]byte, AccountSize)
	binary.LittleEndian.PutUint16(data[tickSpacingOffset:], 64)
	binary.LittleEndian.PutUint16(data[feeRateOffset:], feeRate)
	binary.LittleEndian.PutUint16(data[protocolFeeOffset:], 300)
	putU128(data[liquidityOffset:], uint256.NewInt(liquidity))
	putU128(data[sqrtPriceOffset:], common.FloatToSqrtPriceQ64(price))
	tick := int32(-18_970)
	binary.LittleEndian.PutUint32(data[tickOffset:], uint32(tick))
	for i := 0; i < 32; i++ {
		data[tokenMintAOffset+i] = 0xAA
		data[tokenMintBOffset+i] = 0xBB
		data[tokenVaultAOffset+i] = 0x0A
		data[tokenVaultBOffset+i] = 0x0B
	}
	return data
}

func TestDecodeWhirlpool(t *testing.T) {
	data := buildWhirlpool(3000, 2_000_000_000_000, 0.15)

	wp, err := DecodeWhirlpool(data)
	if err != nil {
		t.Fatalf("DecodeWhirlpool() error = %v", err)
	}
	if wp.FeeRate != 3000 || wp.FeeBps() != 30 {
		t.Fatalf("unexpected fee: rate=%d bps=%d", wp.FeeRate, wp.FeeBps())
	}
	if wp.TickSpacing != 64 || wp.ProtocolFee != 300 {
		t.Fatalf("unexpected tick spacing/protocol fee: %+v", wp)
	}
	if wp.TickIndex != -18_970 {
		t.Fatalf("unexpected tick index %d", wp.TickIndex)
	}
	if wp.TokenMintA[0] != 0xAA || wp.TokenMintB[31] != 0xBB {
		t.Fatal("mints decoded from wrong offsets")
	}
	if wp.TokenVaultA[0] != 0x0A || wp.TokenVaultB[0] != 0x0B {
		t.Fatal("vaults decoded from wrong offsets")
	}
	if !wp.Liquidity.Eq(uint256.NewInt(2_000_000_000_000)) {
		t.Fatalf("unexpected liquidity %s", wp.Liquidity.Dec())
	}
	if math.Abs(wp.Price()-0.15) > 1e-6 {
		t.Fatalf("unexpected price %f", wp.Price())
	}

	a, b := wp.Reserves()
	if a == 0 || b == 0 {
		t.Fatalf("expected non-zero virtual reserves, got %d/%d", a, b)
	}
	if ratio := float64(b) / float64(a); math.Abs(ratio-0.15) > 1e-4 {
		t.Fatalf("reserve ratio %f does not track price", ratio)
	}
}

func TestWhirlpoolLowFeeTier(t *testing.T) {
	wp, err := DecodeWhirlpool(buildWhirlpool(500, 1, 1))
	if err != nil {
		t.Fatalf("DecodeWhirlpool() error = %v", err)
	}
	if wp.FeeBps() != 5 {
		t.Fatalf("expected 5 bps tier, got %d", wp.FeeBps())
	}
}

func TestDecodeWhirlpoolTooShort(t *testing.T) {
	_, err := DecodeWhirlpool(make([]byte, AccountSize-1))
	if !errors.Is(err, common.ErrAccountTooShort) {
		t.Fatalf("expected ErrAccountTooShort, got %v", err)
	}
	_, err = DecodeWhirlpool(nil)
	if !errors.Is(err, common.ErrAccountTooShort) {
		t.Fatalf("expected ErrAccountTooShort for nil buffer, got %v", err)
	}
}
