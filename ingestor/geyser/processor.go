package geyser

import (
	"context"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/rexbrahh/amm-arb/ingestor/common"
	"github.com/rexbrahh/amm-arb/observability"
	"github.com/rexbrahh/amm-arb/pool"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// Processor decodes streamed pool accounts into the latest-state store and
// tracks slot commitment from slot and block-meta updates.
type Processor struct {
	decoder  *pool.Decoder
	store    *pool.Store
	slots    *common.SlotClock
	metrics  *processorMetrics
	logger   *zap.Logger
	onUpdate func(pool.State)
}

// NewProcessor wires a processor to the store it maintains.
func NewProcessor(decoder *pool.Decoder, store *pool.Store, slots *common.SlotClock, logger *zap.Logger, reg prometheus.Registerer) *Processor {
	if decoder == nil {
		decoder = pool.NewDecoder(nil)
	}
	if slots == nil {
		slots = common.NewSlotClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		decoder: decoder,
		store:   store,
		slots:   slots,
		metrics: newProcessorMetrics(reg),
		logger:  logger,
	}
}

// OnUpdate registers a callback invoked after each accepted pool write.
func (p *Processor) OnUpdate(fn func(pool.State)) {
	p.onUpdate = fn
}

// Slots exposes the slot clock fed by the stream.
func (p *Processor) Slots() *common.SlotClock {
	return p.slots
}

// HandleUpdate applies one stream update. Undecodable accounts are counted and
// skipped; only a missing store is fatal.
func (p *Processor) HandleUpdate(_ context.Context, update *pb.SubscribeUpdate) error {
	if update == nil {
		return nil
	}
	if p.store == nil {
		return fmt.Errorf("processor has no pool store")
	}
	p.metrics.recordBytes(proto.Size(update))

	switch u := update.GetUpdateOneof().(type) {
	case *pb.SubscribeUpdate_Account:
		p.handleAccount(u.Account)
	case *pb.SubscribeUpdate_Slot:
		p.handleSlot(u.Slot)
	case *pb.SubscribeUpdate_BlockMeta:
		if u.BlockMeta != nil {
			p.slots.Observe(u.BlockMeta.GetSlot())
		}
	}
	return nil
}

func (p *Processor) handleAccount(update *pb.SubscribeUpdateAccount) {
	info := update.GetAccount()
	if info == nil {
		return
	}
	slot := update.GetSlot()
	p.slots.Observe(slot)

	var addr pool.Address
	if len(info.GetPubkey()) != len(addr) {
		p.metrics.recordDecodeError(pool.VenueUnknown)
		p.logger.Warn("account update with malformed pubkey", zap.Int("len", len(info.GetPubkey())))
		return
	}
	copy(addr[:], info.GetPubkey())

	owner := base58.Encode(info.GetOwner())
	venue := pool.VenueForProgram(owner)
	st, err := p.decoder.DecodeOwned(owner, addr, info.GetData(), slot)
	if err != nil {
		p.metrics.recordDecodeError(venue)
		p.logger.Debug("skip undecodable account",
			zap.Stringer("account", addr),
			zap.String("owner", owner),
			zap.Error(err),
		)
		return
	}

	if !p.store.Put(st) {
		p.metrics.recordStale()
		return
	}
	p.metrics.recordUpdate(venue, p.slots.Lag(slot))
	if p.onUpdate != nil {
		p.onUpdate(st)
	}
}

func (p *Processor) handleSlot(update *pb.SubscribeUpdateSlot) {
	if update == nil {
		return
	}
	slot := update.GetSlot()
	switch update.GetStatus() {
	case pb.SlotStatus_SLOT_PROCESSED:
		p.slots.Observe(slot)
	case pb.SlotStatus_SLOT_CONFIRMED:
		p.slots.Confirm(slot)
	case pb.SlotStatus_SLOT_FINALIZED:
		p.slots.Finalize(slot)
	case pb.SlotStatus_SLOT_DEAD:
		p.logger.Warn("slot marked dead", zap.Uint64("slot", slot))
	}
}

type processorMetrics struct {
	updates      *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	stale        prometheus.Counter
	slotLag      prometheus.Gauge
	bytes        prometheus.Counter
}

func newProcessorMetrics(reg prometheus.Registerer) *processorMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &processorMetrics{
		updates: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "geyser",
			Name:      observability.MetricIngestorAccountUpdates,
			Help:      "Pool account updates written to the store.",
		}, []string{"venue"}),
		decodeErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "geyser",
			Name:      observability.MetricIngestorDecodeErrors,
			Help:      "Streamed accounts that failed to decode.",
		}, []string{"venue"}),
		stale: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "geyser",
			Name:      observability.MetricIngestorStaleUpdates,
			Help:      "Account updates older than the stored state.",
		}),
		slotLag: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Subsystem: "geyser",
			Name:      observability.MetricIngestorSlotLag,
			Help:      "Slots between the latest account update and the observed head.",
		}),
		bytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "geyser",
			Name:      observability.MetricIngestorUpdateBytes,
			Help:      "Encoded size of stream updates received.",
		}),
	}
}

func (m *processorMetrics) recordUpdate(venue pool.Venue, lag uint64) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(venue.String()).Inc()
	m.slotLag.Set(float64(lag))
}

func (m *processorMetrics) recordDecodeError(venue pool.Venue) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(venue.String()).Inc()
}

func (m *processorMetrics) recordStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

func (m *processorMetrics) recordBytes(n int) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
}
