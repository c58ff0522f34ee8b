package natsx

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rexbrahh/amm-arb/events"
)

const (
	defaultPublishTimeout = 5 * time.Second

	envNATSURL         = "ARB_NATS_URL"
	envNATSStream      = "ARB_NATS_STREAM"
	envNATSSubjectRoot = "ARB_NATS_SUBJECT_ROOT"
	envPublishTimeout  = "ARB_NATS_PUBLISH_TIMEOUT"
)

// Config locates the stream engine records are published to.
type Config struct {
	URL            string
	Stream         string
	SubjectRoot    string
	PublishTimeout time.Duration
}

// DefaultConfig publishes under arb.sol with a 5s ack timeout.
func DefaultConfig() Config {
	return Config{
		SubjectRoot:    "arb.sol",
		PublishTimeout: defaultPublishTimeout,
	}
}

func (c Config) Validate() error {
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
	if c.PublishTimeout <= 0 {
		errs = append(errs, errors.New("publish timeout must be positive"))
	}
	return errors.Join(errs...)
}

// FromEnv reads ARB_NATS_* overrides.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(envNATSURL); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv(envNATSStream); v != "" {
		cfg.Stream = v
	}
	if v := os.Getenv(envNATSSubjectRoot); v != "" {
		cfg.SubjectRoot = v
	}
	if v := os.Getenv(envPublishTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPublishTimeout, err)
		}
		cfg.PublishTimeout = d
	}
	return cfg, cfg.Validate()
}

// Subject returns the subject a record of kind is published on.
func (c Config) Subject(kind events.Kind) string {
	return c.SubjectRoot + "." + string(kind)
}

// StreamSubjects is the wildcard a stream must capture to hold every record.
func (c Config) StreamSubjects() []string {
	return []string{c.SubjectRoot + ".>"}
}
