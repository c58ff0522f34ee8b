package geyser

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rexbrahh/amm-arb/ingestor/common"
	"github.com/rexbrahh/amm-arb/pool"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

func testAddr(b byte) pool.Address {
	var a pool.Address
	a[0] = b
	a[31] = 7
	return a
}

func raydiumData(reserveA, reserveB uint64) []byte {
	data := make([]byte, pool.VenueRaydiumAMM.MinAccountSize())
	binary.LittleEndian.PutUint64(data[32:], 9)
	binary.LittleEndian.PutUint64(data[40:], 6)
	a, b := testAddr(200), testAddr(201)
	copy(data[400:432], a[:])
	copy(data[432:464], b[:])
	binary.LittleEndian.PutUint64(data[464:], reserveA)
	binary.LittleEndian.PutUint64(data[472:], reserveB)
	return data
}

func accountUpdate(addr pool.Address, owner string, data []byte, slot uint64) *pb.SubscribeUpdate {
	ownerKey := pool.MustParseAddress(owner)
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Account{
			Account: &pb.SubscribeUpdateAccount{
				Slot: slot,
				Account: &pb.SubscribeUpdateAccountInfo{
					Pubkey: addr[:],
					Owner:  ownerKey[:],
					Data:   data,
				},
			},
		},
	}
}

func slotUpdate(slot uint64, status pb.SlotStatus) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Slot{
			Slot: &pb.SubscribeUpdateSlot{Slot: slot, Status: status},
		},
	}
}

func newTestProcessor(t *testing.T) (*Processor, *pool.Store, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	store := pool.NewStore()
	return NewProcessor(nil, store, common.NewSlotClock(), nil, reg), store, reg
}

func TestProcessorWritesDecodedAccount(t *testing.T) {
	proc, store, _ := newTestProcessor(t)
	var seen []pool.State
	proc.OnUpdate(func(st pool.State) { seen = append(seen, st) })

	target := testAddr(1)
	update := accountUpdate(target, pool.VenueRaydiumAMM.ProgramID(), raydiumData(5_000, 7_000), 100)
	if err := proc.HandleUpdate(context.Background(), update); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}

	st, ok := store.Get(target)
	if !ok {
		t.Fatal("expected pool in store")
	}
	if st.Venue != pool.VenueRaydiumAMM || st.ReserveA != 5_000 || st.ReserveB != 7_000 || st.Slot != 100 {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one update callback, got %d", len(seen))
	}
	if proc.Slots().Head() != 100 {
		t.Fatalf("expected head 100, got %d", proc.Slots().Head())
	}
}

func TestProcessorSkipsStaleUpdate(t *testing.T) {
	proc, store, reg := newTestProcessor(t)
	target := testAddr(2)
	owner := pool.VenueRaydiumAMM.ProgramID()

	_ = proc.HandleUpdate(context.Background(), accountUpdate(target, owner, raydiumData(9_000, 1_000), 200))
	_ = proc.HandleUpdate(context.Background(), accountUpdate(target, owner, raydiumData(1, 1), 150))

	st, _ := store.Get(target)
	if st.Slot != 200 || st.ReserveA != 9_000 {
		t.Fatalf("older slot overwrote state: %+v", st)
	}
	if got := testutil.ToFloat64(proc.metrics.stale); got != 1 {
		t.Fatalf("expected 1 stale update, got %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "arb_geyser_ingestor_account_updates_total"); err != nil || n != 1 {
		t.Fatalf("expected one update series, got %d (err=%v)", n, err)
	}
}

func TestProcessorCountsDecodeErrors(t *testing.T) {
	proc, store, _ := newTestProcessor(t)

	short := accountUpdate(testAddr(3), pool.VenueRaydiumAMM.ProgramID(), make([]byte, 16), 10)
	if err := proc.HandleUpdate(context.Background(), short); err != nil {
		t.Fatalf("decode failures must not be fatal: %v", err)
	}
	foreign := accountUpdate(testAddr(4), "11111111111111111111111111111111", raydiumData(1, 1), 10)
	if err := proc.HandleUpdate(context.Background(), foreign); err != nil {
		t.Fatalf("unknown owners must not be fatal: %v", err)
	}

	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d pools", store.Len())
	}
	if got := testutil.ToFloat64(proc.metrics.decodeErrors.WithLabelValues("raydium_amm")); got != 1 {
		t.Fatalf("expected 1 raydium decode error, got %v", got)
	}
	if got := testutil.ToFloat64(proc.metrics.decodeErrors.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected 1 unknown-venue decode error, got %v", got)
	}
}

func TestProcessorTracksSlotCommitment(t *testing.T) {
	proc, _, _ := newTestProcessor(t)
	ctx := context.Background()

	for s := uint64(10); s <= 15; s++ {
		_ = proc.HandleUpdate(ctx, slotUpdate(s, pb.SlotStatus_SLOT_PROCESSED))
	}
	_ = proc.HandleUpdate(ctx, slotUpdate(14, pb.SlotStatus_SLOT_CONFIRMED))
	_ = proc.HandleUpdate(ctx, slotUpdate(12, pb.SlotStatus_SLOT_FINALIZED))
	_ = proc.HandleUpdate(ctx, slotUpdate(13, pb.SlotStatus_SLOT_DEAD))

	slots := proc.Slots()
	if slots.Head() != 15 || slots.Confirmed() != 14 || slots.Finalized() != 12 {
		t.Fatalf("unexpected watermarks head=%d confirmed=%d finalized=%d",
			slots.Head(), slots.Confirmed(), slots.Finalized())
	}
	if slots.Size() != 4 {
		t.Fatalf("expected slots before finalized to be pruned, %d tracked", slots.Size())
	}
}

func TestProcessorRequiresStore(t *testing.T) {
	proc := NewProcessor(nil, nil, nil, nil, nil)
	update := accountUpdate(testAddr(5), pool.VenueRaydiumAMM.ProgramID(), raydiumData(1, 1), 1)
	if err := proc.HandleUpdate(context.Background(), update); err == nil {
		t.Fatal("expected error without a store")
	}
	if err := proc.HandleUpdate(context.Background(), nil); err != nil {
		t.Fatalf("nil update should be ignored: %v", err)
	}
}
