package serum

import (
	"encoding/binary"
	"fmt"

	"github.com/rexbrahh/amm-arb/decoder/common"
)

const (
	// ProgramID is the Serum DEX v3 program address on Solana.
	ProgramID = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	// FeeBps is the taker fee applied to market swaps.
	FeeBps = 22
)

// Market v3 account layout. The account starts with a 5 byte "serum" pad.
const (
	accountFlagsOffset       = 5
	ownAddressOffset         = 13
	baseMintOffset           = 53
	quoteMintOffset          = 85
	baseVaultOffset          = 117
	baseDepositsTotalOffset  = 149
	quoteVaultOffset         = 165
	quoteDepositsTotalOffset = 197
	baseLotSizeOffset        = 349
	quoteLotSizeOffset       = 357

	// MarketAccountSize is the minimum buffer length accepted by DecodeMarket.
	MarketAccountSize = 388
)

// Market holds the pricing-relevant fields of a Serum market account.
type Market struct {
	AccountFlags       uint64
	OwnAddress         [32]byte
	BaseMint           [32]byte
	QuoteMint          [32]byte
	BaseVault          [32]byte
	QuoteVault         [32]byte
	BaseDepositsTotal  uint64
	QuoteDepositsTotal uint64
	BaseLotSize        uint64
	QuoteLotSize       uint64
}

// DecodeMarket parses the fixed-offset fields of a Serum v3 market account.
func DecodeMarket(data []byte) (*Market, error) {
	if len(data) < MarketAccountSize {
		return nil, fmt.Errorf("serum market account: have %d want >= %d: %w", len(data), MarketAccountSize, common.ErrAccountTooShort)
	}
	m := &Market{
		AccountFlags:       binary.LittleEndian.Uint64(data[accountFlagsOffset : accountFlagsOffset+8]),
		BaseDepositsTotal:  binary.LittleEndian.Uint64(data[baseDepositsTotalOffset : baseDepositsTotalOffset+8]),
		QuoteDepositsTotal: binary.LittleEndian.Uint64(data[quoteDepositsTotalOffset : quoteDepositsTotalOffset+8]),
		BaseLotSize:        binary.LittleEndian.Uint64(data[baseLotSizeOffset : baseLotSizeOffset+8]),
		QuoteLotSize:       binary.LittleEndian.Uint64(data[quoteLotSizeOffset : quoteLotSizeOffset+8]),
	}
	copy(m.OwnAddress[:], data[ownAddressOffset:ownAddressOffset+32])
	copy(m.BaseMint[:], data[baseMintOffset:baseMintOffset+32])
	copy(m.QuoteMint[:], data[quoteMintOffset:quoteMintOffset+32])
	copy(m.BaseVault[:], data[baseVaultOffset:baseVaultOffset+32])
	copy(m.QuoteVault[:], data[quoteVaultOffset:quoteVaultOffset+32])
	return m, nil
}
