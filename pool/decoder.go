package pool

import (
	"time"

	"github.com/rexbrahh/amm-arb/decoder/common"
)

// Decoder wraps Decode with the context that raw accounts lack: the
// observation time, the slot and mint decimals for venues that do not store
// them on the pool account.
type Decoder struct {
	mints common.MintMetadataProvider
	now   func() time.Time
}

// NewDecoder constructs a Decoder. A nil provider falls back to the built-in
// table of well-known mints.
func NewDecoder(mints common.MintMetadataProvider) *Decoder {
	if mints == nil {
		mints = common.NewInMemoryMintMetadataProvider()
	}
	return &Decoder{mints: mints, now: time.Now}
}

// WithClock overrides the clock used to stamp ObservedAt.
func (d *Decoder) WithClock(now func() time.Time) *Decoder {
	if now != nil {
		d.now = now
	}
	return d
}

// Mints exposes the metadata provider so other components can label routes.
func (d *Decoder) Mints() common.MintMetadataProvider {
	return d.mints
}

// Decode decodes a venue account observed at slot.
func (d *Decoder) Decode(venue Venue, address Address, data []byte, slot uint64) (State, error) {
	st, err := Decode(venue, address, data)
	if err != nil {
		return State{}, err
	}
	st.Slot = slot
	st.ObservedAt = d.now().UTC()
	if st.DecimalsA == 0 {
		st.DecimalsA = d.decimals(st.MintA)
	}
	if st.DecimalsB == 0 {
		st.DecimalsB = d.decimals(st.MintB)
	}
	return st, nil
}

// DecodeOwned resolves the venue from the account owner before decoding.
func (d *Decoder) DecodeOwned(owner string, address Address, data []byte, slot uint64) (State, error) {
	return d.Decode(VenueForProgram(owner), address, data, slot)
}

func (d *Decoder) decimals(mint Address) uint8 {
	dec, err := d.mints.GetDecimals(mint.String())
	if err != nil {
		return 0
	}
	return dec
}
