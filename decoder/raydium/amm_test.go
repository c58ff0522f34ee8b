package raydium

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/rexbrahh/amm-arb/decoder/common"
)

func buildAmmAccount(mintA, mintB byte, reserveA, reserveB uint64) []byte {
	data := make([]byte, AmmAccountSize)
	binary.LittleEndian.PutUint64(data[ammStatusOffset:], 6)
	binary.LittleEndian.PutUint64(data[ammBaseDecimalsOffset:], 9)
	binary.LittleEndian.PutUint64(data[ammQuoteDecimalsOffset:], 6)
	for i := 0; i < 32; i++ {
		data[ammMintAOffset+i] = mintA
		data[ammMintBOffset+i] = mintB
	}
	binary.LittleEndian.PutUint64(data[ammReserveAOffset:], reserveA)
	binary.LittleEndian.PutUint64(data[ammReserveBOffset:], reserveB)
	binary.LittleEndian.PutUint64(data[ammLPSupplyOffset:], 42)
	return data
}

func TestDecodeAmm(t *testing.T) {
	data := buildAmmAccount(0x01, 0x02, 1_000_000_000, 150_000_000)

	acc, err := DecodeAmm(data)
	if err != nil {
		t.Fatalf("DecodeAmm() error = %v", err)
	}
	if acc.ReserveA != 1_000_000_000 || acc.ReserveB != 150_000_000 {
		t.Fatalf("unexpected reserves: %+v", acc)
	}
	if acc.MintA[0] != 0x01 || acc.MintA[31] != 0x01 || acc.MintB[0] != 0x02 {
		t.Fatalf("unexpected mints: %x %x", acc.MintA, acc.MintB)
	}
	if acc.BaseDecimals != 9 || acc.QuoteDecimals != 6 {
		t.Fatalf("unexpected decimals: %d/%d", acc.BaseDecimals, acc.QuoteDecimals)
	}
	if acc.Status != 6 || acc.LPSupply != 42 {
		t.Fatalf("unexpected status/lp supply: %+v", acc)
	}
}

func TestDecodeAmmTooShort(t *testing.T) {
	for _, size := range []int{0, 1, 480, AmmAccountSize - 1} {
		_, err := DecodeAmm(make([]byte, size))
		if !errors.Is(err, common.ErrAccountTooShort) {
			t.Fatalf("size %d: expected ErrAccountTooShort, got %v", size, err)
		}
	}
}

func TestDecodeAmmCorruptDecimals(t *testing.T) {
	data := buildAmmAccount(1, 2, 1, 1)
	binary.LittleEndian.PutUint64(data[ammBaseDecimalsOffset:], 1<<40)

	acc, err := DecodeAmm(data)
	if err != nil {
		t.Fatalf("DecodeAmm() error = %v", err)
	}
	if acc.BaseDecimals != 0 {
		t.Fatalf("expected corrupt decimals to decode as 0, got %d", acc.BaseDecimals)
	}
}
