package orca_whirlpool

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/rexbrahh/amm-arb/decoder/common"
)

// WhirlpoolProgramID is the Orca Whirlpools program address on Solana
const WhirlpoolProgramID = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

const (
	discriminatorLen    = 8
	configOffset        = discriminatorLen
	tickSpacingOffset   = configOffset + 32 + 1
	feeRateOffset       = tickSpacingOffset + 2 + 2
	protocolFeeOffset   = feeRateOffset + 2
	liquidityOffset     = protocolFeeOffset + 2
	sqrtPriceOffset     = liquidityOffset + 16
	tickOffset          = sqrtPriceOffset + 16
	protocolFeeAOffset  = tickOffset + 4
	protocolFeeBOffset  = protocolFeeAOffset + 8
	tokenMintAOffset    = protocolFeeBOffset + 8
	tokenVaultAOffset   = tokenMintAOffset + 32
	feeGrowthAOffset    = tokenVaultAOffset + 32
	tokenMintBOffset    = feeGrowthAOffset + 16
	tokenVaultBOffset   = tokenMintBOffset + 32

	// AccountSize is the full whirlpool account size (including reward infos)
	// and the minimum buffer length accepted by DecodeWhirlpool.
	AccountSize = 653

	// feeRateDenominator converts the on-chain fee rate (hundredths of a
	// basis point) into basis points.
	feeRateDenominator = 100
)

// Whirlpool captures the pricing state of a whirlpool account.
type Whirlpool struct {
	Config      [32]byte
	TickSpacing uint16
	// FeeRate is stored as hundredths of a basis point
	FeeRate      uint16
	ProtocolFee  uint16
	Liquidity    *uint256.Int
	SqrtPriceQ64 *uint256.Int
	TickIndex    int32
	TokenMintA   [32]byte
	TokenVaultA  [32]byte
	TokenMintB   [32]byte
	TokenVaultB  [32]byte
}

// DecodeWhirlpool extracts pool metadata from raw whirlpool account data.
func DecodeWhirlpool(data []byte) (*Whirlpool, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("orca whirlpool account: have %d want >= %d: %w", len(data), AccountSize, common.ErrAccountTooShort)
	}
	wp := &Whirlpool{
		TickSpacing:  binary.LittleEndian.Uint16(data[tickSpacingOffset : tickSpacingOffset+2]),
		FeeRate:      binary.LittleEndian.Uint16(data[feeRateOffset : feeRateOffset+2]),
		ProtocolFee:  binary.LittleEndian.Uint16(data[protocolFeeOffset : protocolFeeOffset+2]),
		Liquidity:    common.ReadU128LE(data[liquidityOffset : liquidityOffset+16]),
		SqrtPriceQ64: common.ReadU128LE(data[sqrtPriceOffset : sqrtPriceOffset+16]),
		TickIndex:    int32(binary.LittleEndian.Uint32(data[tickOffset : tickOffset+4])),
	}
	copy(wp.Config[:], data[configOffset:configOffset+32])
	copy(wp.TokenMintA[:], data[tokenMintAOffset:tokenMintAOffset+32])
	copy(wp.TokenVaultA[:], data[tokenVaultAOffset:tokenVaultAOffset+32])
	copy(wp.TokenMintB[:], data[tokenMintBOffset:tokenMintBOffset+32])
	copy(wp.TokenVaultB[:], data[tokenVaultBOffset:tokenVaultBOffset+32])
	return wp, nil
}

// FeeBps returns the pool fee rounded down to whole basis points.
func (w *Whirlpool) FeeBps() uint16 {
	return w.FeeRate / feeRateDenominator
}

// Reserves returns the constant-product reserves equivalent to the pool's
// active liquidity at its current sqrt price.
func (w *Whirlpool) Reserves() (reserveA, reserveB uint64) {
	return common.VirtualReserves(w.Liquidity, w.SqrtPriceQ64)
}

// Price returns the raw token B per token A price.
func (w *Whirlpool) Price() float64 {
	return common.SqrtPriceQ64ToFloat(w.SqrtPriceQ64)
}
