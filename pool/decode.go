package pool

import (
	"errors"
	"fmt"

	"github.com/rexbrahh/amm-arb/decoder/common"
	orcawhirlpool "github.com/rexbrahh/amm-arb/decoder/orca_whirlpool"
	ray "github.com/rexbrahh/amm-arb/decoder/raydium"
	"github.com/rexbrahh/amm-arb/decoder/serum"
)

// DecodeErrorKind classifies decode failures.
type DecodeErrorKind int

const (
	TooShort DecodeErrorKind = iota + 1
	UnsupportedVenue
)

func (k DecodeErrorKind) String() string {
	switch k {
	case TooShort:
		return "too_short"
	case UnsupportedVenue:
		return "unsupported_venue"
	default:
		return "unknown"
	}
}

// DecodeError annotates a decode failure with its kind and venue. It is fatal
// to the single pool being decoded only.
type DecodeError struct {
	Kind  DecodeErrorKind
	Venue Venue
	Err   error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("decode %s: %s", e.Venue, e.Kind)
	}
	return fmt.Sprintf("decode %s: %s: %v", e.Venue, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsDecodeKind reports whether err carries a DecodeError of the given kind.
func IsDecodeKind(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}

// Decode turns a raw account buffer into a State. It is pure: ObservedAt,
// Slot and decimals missing from the account are left zero for the caller
// (see Decoder) to fill.
func Decode(venue Venue, address Address, data []byte) (State, error) {
	switch venue {
	case VenueRaydiumAMM:
		return decodeRaydium(address, data)
	case VenueOrcaWhirlpool:
		return decodeWhirlpool(address, data)
	case VenueSerum:
		return decodeSerum(address, data)
	default:
		return State{}, &DecodeError{Kind: UnsupportedVenue, Venue: venue}
	}
}

func decodeRaydium(address Address, data []byte) (State, error) {
	acc, err := ray.DecodeAmm(data)
	if err != nil {
		return State{}, wrapDecodeErr(VenueRaydiumAMM, err)
	}
	return State{
		Address:   address,
		Venue:     VenueRaydiumAMM,
		MintA:     acc.MintA,
		MintB:     acc.MintB,
		ReserveA:  acc.ReserveA,
		ReserveB:  acc.ReserveB,
		FeeBps:    ray.FeeBps,
		DecimalsA: acc.BaseDecimals,
		DecimalsB: acc.QuoteDecimals,
	}, nil
}

func decodeWhirlpool(address Address, data []byte) (State, error) {
	wp, err := orcawhirlpool.DecodeWhirlpool(data)
	if err != nil {
		return State{}, wrapDecodeErr(VenueOrcaWhirlpool, err)
	}
	reserveA, reserveB := wp.Reserves()
	return State{
		Address:  address,
		Venue:    VenueOrcaWhirlpool,
		MintA:    wp.TokenMintA,
		MintB:    wp.TokenMintB,
		ReserveA: reserveA,
		ReserveB: reserveB,
		FeeBps:   wp.FeeBps(),
	}, nil
}

func decodeSerum(address Address, data []byte) (State, error) {
	m, err := serum.DecodeMarket(data)
	if err != nil {
		return State{}, wrapDecodeErr(VenueSerum, err)
	}
	return State{
		Address:  address,
		Venue:    VenueSerum,
		MintA:    m.BaseMint,
		MintB:    m.QuoteMint,
		ReserveA: m.BaseDepositsTotal,
		ReserveB: m.QuoteDepositsTotal,
		FeeBps:   serum.FeeBps,
	}, nil
}

func wrapDecodeErr(venue Venue, err error) error {
	if errors.Is(err, common.ErrAccountTooShort) {
		return &DecodeError{Kind: TooShort, Venue: venue, Err: err}
	}
	return fmt.Errorf("decode %s: %w", venue, err)
}
