package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/events"
	"github.com/rexbrahh/amm-arb/observability"
)

// Publisher emits engine records to JetStream as JSON. Every message carries
// a Nats-Msg-Id so the stream drops duplicates inside its window.
type Publisher struct {
	cfg     Config
	conn    *nats.Conn
	js      nats.JetStreamContext
	logger  *zap.Logger
	metrics *publisherMetrics
}

// NewPublisher validates configuration and connects to JetStream.
func NewPublisher(cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("amm-arb-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	return &Publisher{
		cfg:     cfg,
		conn:    conn,
		js:      js,
		logger:  logger,
		metrics: newPublisherMetrics(reg),
	}, nil
}

// streamDuplicateWindow bounds how long the stream remembers message ids.
const streamDuplicateWindow = 2 * time.Minute

// EnsureStream creates the configured stream over every engine subject when
// it does not exist yet. An existing stream is left untouched.
func (p *Publisher) EnsureStream() error {
	_, err := p.js.StreamInfo(p.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", p.cfg.Stream, err)
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       p.cfg.Stream,
		Subjects:   p.cfg.StreamSubjects(),
		Storage:    nats.FileStorage,
		Duplicates: streamDuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", p.cfg.Stream, err)
	}
	p.logger.Info("jetstream stream created", zap.String("stream", p.cfg.Stream), zap.Strings("subjects", p.cfg.StreamSubjects()))
	return nil
}

// PublishOpportunity publishes a scored opportunity.
func (p *Publisher) PublishOpportunity(ctx context.Context, opp events.Opportunity) error {
	return p.publish(ctx, events.KindOpportunity, opp.MsgID(), opp)
}

// PublishExecution publishes an execution result.
func (p *Publisher) PublishExecution(ctx context.Context, exec events.Execution) error {
	return p.publish(ctx, events.KindExecution, exec.MsgID(), exec)
}

// PublishPoolSnapshot publishes a pool snapshot.
func (p *Publisher) PublishPoolSnapshot(ctx context.Context, snap events.PoolSnapshot) error {
	return p.publish(ctx, events.KindPoolSnapshot, snap.MsgID(), snap)
}

func (p *Publisher) publish(ctx context.Context, kind events.Kind, msgID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}

	msg := nats.NewMsg(p.cfg.Subject(kind))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, msgID)

	ctx, cancel := p.WithTimeout(ctx)
	defer cancel()

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		p.metrics.recordError(kind)
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	p.metrics.recordAck(kind)
	if ack != nil && ack.Duplicate {
		p.logger.Debug("duplicate publish dropped", zap.String("kind", string(kind)), zap.String("msg_id", msgID))
	}
	return nil
}

// WithTimeout returns a context with the publisher's timeout applied.
func (p *Publisher) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := p.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return context.WithTimeout(parent, timeout)
}

// Config exposes a copy of the publisher configuration.
func (p *Publisher) Config() Config {
	return p.cfg
}

// Close drains pending publishes and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

type publisherMetrics struct {
	acks   *prometheus.CounterVec
	errors *prometheus.CounterVec
}

func newPublisherMetrics(reg prometheus.Registerer) *publisherMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &publisherMetrics{
		acks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricPublisherNATSacksTotal,
			Help:      "JetStream publish acknowledgements per record kind.",
		}, []string{"kind"}),
		errors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricPublisherNATSErrors,
			Help:      "JetStream publish failures per record kind.",
		}, []string{"kind"}),
	}
}

func (m *publisherMetrics) recordAck(kind events.Kind) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(string(kind)).Inc()
}

func (m *publisherMetrics) recordError(kind events.Kind) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(string(kind)).Inc()
}
