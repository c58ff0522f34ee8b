package raydium

import (
	"encoding/binary"
	"fmt"

	"github.com/rexbrahh/amm-arb/decoder/common"
)

const (
	// ProgramID is the Raydium AMM v4 program address on Solana.
	ProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

	// FeeBps is the fixed protocol swap fee charged by the AMM.
	FeeBps = 25
)

// AMM v4 account layout offsets.
const (
	ammStatusOffset        = 0
	ammBaseDecimalsOffset  = 32
	ammQuoteDecimalsOffset = 40
	ammMintAOffset         = 400
	ammMintBOffset         = 432
	ammReserveAOffset      = 464
	ammReserveBOffset      = 472
	ammLPSupplyOffset      = 744

	// AmmAccountSize is the minimum buffer length accepted by DecodeAmm.
	AmmAccountSize = 752
)

// AmmAccount holds the fields of a Raydium AMM v4 pool account needed for pricing.
type AmmAccount struct {
	Status        uint64
	BaseDecimals  uint8
	QuoteDecimals uint8
	MintA         [32]byte
	MintB         [32]byte
	ReserveA      uint64
	ReserveB      uint64
	LPSupply      uint64
}

// DecodeAmm extracts mints, reserves and decimals from raw AMM account data.
func DecodeAmm(data []byte) (*AmmAccount, error) {
	if len(data) < AmmAccountSize {
		return nil, fmt.Errorf("raydium amm account: have %d want >= %d: %w", len(data), AmmAccountSize, common.ErrAccountTooShort)
	}

	acc := &AmmAccount{
		Status:        binary.LittleEndian.Uint64(data[ammStatusOffset : ammStatusOffset+8]),
		BaseDecimals:  clampDecimals(binary.LittleEndian.Uint64(data[ammBaseDecimalsOffset : ammBaseDecimalsOffset+8])),
		QuoteDecimals: clampDecimals(binary.LittleEndian.Uint64(data[ammQuoteDecimalsOffset : ammQuoteDecimalsOffset+8])),
		ReserveA:      binary.LittleEndian.Uint64(data[ammReserveAOffset : ammReserveAOffset+8]),
		ReserveB:      binary.LittleEndian.Uint64(data[ammReserveBOffset : ammReserveBOffset+8]),
		LPSupply:      binary.LittleEndian.Uint64(data[ammLPSupplyOffset : ammLPSupplyOffset+8]),
	}
	copy(acc.MintA[:], data[ammMintAOffset:ammMintAOffset+32])
	copy(acc.MintB[:], data[ammMintBOffset:ammMintBOffset+32])
	return acc, nil
}

// decimals are stored as u64; anything above 255 is corrupt and reported as 0.
func clampDecimals(v uint64) uint8 {
	if v > 255 {
		return 0
	}
	return uint8(v)
}
