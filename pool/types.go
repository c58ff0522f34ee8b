package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58/base58"

	orcawhirlpool "github.com/rexbrahh/amm-arb/decoder/orca_whirlpool"
	ray "github.com/rexbrahh/amm-arb/decoder/raydium"
	"github.com/rexbrahh/amm-arb/decoder/serum"
)

// Address is a 32 byte Solana account key.
type Address [32]byte

// ParseAddress decodes a base58 account key.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return addr, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("decode address %q: have %d bytes want %d", s, len(raw), len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for constants and fixtures.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the all-zero key.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Venue identifies the AMM program that owns a pool account.
type Venue uint8

const (
	VenueUnknown Venue = iota
	VenueRaydiumAMM
	VenueOrcaWhirlpool
	VenueSerum
)

func (v Venue) String() string {
	switch v {
	case VenueRaydiumAMM:
		return "raydium_amm"
	case VenueOrcaWhirlpool:
		return "orca_whirlpool"
	case VenueSerum:
		return "serum"
	default:
		return "unknown"
	}
}

// ParseVenue maps a configuration name onto a Venue.
func ParseVenue(s string) (Venue, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raydium", "raydium_amm", "raydium-amm":
		return VenueRaydiumAMM, nil
	case "orca", "whirlpool", "orca_whirlpool", "orca-whirlpool":
		return VenueOrcaWhirlpool, nil
	case "serum", "serum_v3":
		return VenueSerum, nil
	default:
		return VenueUnknown, fmt.Errorf("unknown venue %q", s)
	}
}

func (v Venue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Venue) UnmarshalText(text []byte) error {
	parsed, err := ParseVenue(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VenueForProgram resolves the venue from an account owner program id.
func VenueForProgram(programID string) Venue {
	switch programID {
	case ray.ProgramID:
		return VenueRaydiumAMM
	case orcawhirlpool.WhirlpoolProgramID:
		return VenueOrcaWhirlpool
	case serum.ProgramID:
		return VenueSerum
	default:
		return VenueUnknown
	}
}

// ProgramID returns the owner program of the venue, or "" for VenueUnknown.
func (v Venue) ProgramID() string {
	switch v {
	case VenueRaydiumAMM:
		return ray.ProgramID
	case VenueOrcaWhirlpool:
		return orcawhirlpool.WhirlpoolProgramID
	case VenueSerum:
		return serum.ProgramID
	default:
		return ""
	}
}

// MinAccountSize is the shortest account buffer Decode accepts for v.
func (v Venue) MinAccountSize() int {
	switch v {
	case VenueRaydiumAMM:
		return ray.AmmAccountSize
	case VenueOrcaWhirlpool:
		return orcawhirlpool.AccountSize
	case VenueSerum:
		return serum.MarketAccountSize
	default:
		return 0
	}
}

// State is an immutable view of one pool at a point in time. Refreshes
// produce new values; nothing mutates a State after it is built.
type State struct {
	Address    Address
	Venue      Venue
	MintA      Address
	MintB      Address
	ReserveA   uint64
	ReserveB   uint64
	FeeBps     uint16
	DecimalsA  uint8
	DecimalsB  uint8
	Slot       uint64
	ObservedAt time.Time
}

// Usable reports whether both reserves are non-zero. Degenerate pools are
// excluded from routing.
func (s State) Usable() bool {
	return s.ReserveA > 0 && s.ReserveB > 0
}

// HasMint reports whether mint is one side of the pool.
func (s State) HasMint(mint Address) bool {
	return s.MintA == mint || s.MintB == mint
}

// Direction reports whether swapping mintIn through the pool is an A to B
// swap. ok is false when mintIn is not traded by the pool.
func (s State) Direction(mintIn Address) (aToB bool, ok bool) {
	switch mintIn {
	case s.MintA:
		return true, true
	case s.MintB:
		return false, true
	default:
		return false, false
	}
}

// Reserves returns (reserveIn, reserveOut) for the given swap direction.
func (s State) Reserves(aToB bool) (uint64, uint64) {
	if aToB {
		return s.ReserveA, s.ReserveB
	}
	return s.ReserveB, s.ReserveA
}

// MintsFor returns (mintIn, mintOut) for the given swap direction.
func (s State) MintsFor(aToB bool) (Address, Address) {
	if aToB {
		return s.MintA, s.MintB
	}
	return s.MintB, s.MintA
}

// MinReserve is the shallower of the two reserves.
func (s State) MinReserve() uint64 {
	if s.ReserveA < s.ReserveB {
		return s.ReserveA
	}
	return s.ReserveB
}

// Age is the time elapsed since the state was observed, relative to now.
func (s State) Age(now time.Time) time.Duration {
	if s.ObservedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ObservedAt)
}
