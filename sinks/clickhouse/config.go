package clickhouse

import (
	"fmt"
	"os"
	"strconv"
	"time"

	natsx "github.com/rexbrahh/amm-arb/sinks/nats"
)

const (
	envPrefix        = "ARB_CH"
	envDSN           = "ARB_CH_DSN"
	envDatabase      = "ARB_CH_DATABASE"
	envBatchSize     = "ARB_CH_BATCH_SIZE"
	envFlushInterval = "ARB_CH_FLUSH_INTERVAL"
)

// ServiceConfig pairs the stream consumer with the table writer.
type ServiceConfig struct {
	Source natsx.ConsumerConfig
	Writer Config
}

// DefaultWriterConfig targets the executions and opportunities tables.
func DefaultWriterConfig() Config {
	return Config{
		Database:           "arb",
		ExecutionsTable:    "executions",
		OpportunitiesTable: "opportunities",
		BatchSize:          512,
		FlushInterval:      time.Second,
		MaxRetries:         3,
		RetryBackoffBase:   200 * time.Millisecond,
		RetryBackoffMax:    5 * time.Second,
	}
}

func (c ServiceConfig) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if c.Writer.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	return validateConfig(c.Writer)
}

// ServiceConfigFromEnv reads the ClickHouse target and the ARB_CH_* consumer
// overrides.
func ServiceConfigFromEnv() (ServiceConfig, error) {
	source, err := natsx.ConsumerFromEnv(envPrefix, "clickhouse-sink")
	if err != nil {
		return ServiceConfig{}, err
	}
	cfg := ServiceConfig{Source: source, Writer: DefaultWriterConfig()}

	cfg.Writer.DSN = os.Getenv(envDSN)
	if v := os.Getenv(envDatabase); v != "" {
		cfg.Writer.Database = v
	}
	if v := os.Getenv(envBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("invalid %s: %w", envBatchSize, err)
		}
		cfg.Writer.BatchSize = n
	}
	if v := os.Getenv(envFlushInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("invalid %s: %w", envFlushInterval, err)
		}
		cfg.Writer.FlushInterval = d
	}
	return cfg, cfg.Validate()
}
