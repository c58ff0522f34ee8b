package natsx

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rexbrahh/amm-arb/events"
)

// ConsumerConfig describes a durable pull consumer on the engine stream.
type ConsumerConfig struct {
	URL         string
	Stream      string
	SubjectRoot string
	Consumer    string
	PullBatch   int
	PullTimeout time.Duration
}

// DefaultConsumerConfig returns pull defaults for the named durable consumer.
func DefaultConsumerConfig(consumer string) ConsumerConfig {
	return ConsumerConfig{
		SubjectRoot: DefaultConfig().SubjectRoot,
		Consumer:    consumer,
		PullBatch:   256,
		PullTimeout: 500 * time.Millisecond,
	}
}

func (c ConsumerConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("nats url is required"))
	}
	if c.Stream == "" {
		errs = append(errs, errors.New("nats stream is required"))
	}
	if c.SubjectRoot == "" {
		errs = append(errs, errors.New("subject root is required"))
	}
	if c.Consumer == "" {
		errs = append(errs, errors.New("consumer name is required"))
	}
	if c.PullBatch <= 0 {
		errs = append(errs, errors.New("pull batch must be positive"))
	}
	if c.PullTimeout <= 0 {
		errs = append(errs, errors.New("pull timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ConsumerFromEnv reads <prefix>_CONSUMER, <prefix>_PULL_BATCH and
// <prefix>_PULL_TIMEOUT on top of the connection settings the publisher
// uses (ARB_NATS_URL, ARB_NATS_STREAM, ARB_NATS_SUBJECT_ROOT), so every sink
// reads the stream the engine writes.
func ConsumerFromEnv(prefix, consumer string) (ConsumerConfig, error) {
	cfg := DefaultConsumerConfig(consumer)
	cfg.URL = os.Getenv(envNATSURL)
	cfg.Stream = os.Getenv(envNATSStream)
	if v := os.Getenv(envNATSSubjectRoot); v != "" {
		cfg.SubjectRoot = v
	}
	if v := os.Getenv(prefix + "_CONSUMER"); v != "" {
		cfg.Consumer = v
	}
	if env := prefix + "_PULL_BATCH"; os.Getenv(env) != "" {
		n, err := strconv.Atoi(os.Getenv(env))
		if err != nil {
			return ConsumerConfig{}, fmt.Errorf("invalid %s: %w", env, err)
		}
		cfg.PullBatch = n
	}
	if env := prefix + "_PULL_TIMEOUT"; os.Getenv(env) != "" {
		d, err := time.ParseDuration(os.Getenv(env))
		if err != nil {
			return ConsumerConfig{}, fmt.Errorf("invalid %s: %w", env, err)
		}
		cfg.PullTimeout = d
	}
	return cfg, cfg.Validate()
}

// Subject returns the subject records of kind arrive on.
func (c ConsumerConfig) Subject(kind events.Kind) string {
	return c.SubjectRoot + "." + string(kind)
}

// Subscribe connects and binds the durable pull consumer to subject. The
// caller drains the returned connection.
func (c ConsumerConfig) Subscribe(subject string) (*nats.Conn, *nats.Subscription, error) {
	conn, err := nats.Connect(c.URL, nats.Name(c.Consumer))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	sub, err := js.PullSubscribe(subject, c.Consumer, nats.BindStream(c.Stream), nats.ManualAck())
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("pull subscribe %s: %w", subject, err)
	}
	return conn, sub, nil
}
