package parquet

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	envEndpoint      = "ARB_S3_ENDPOINT"
	envBucket        = "ARB_S3_BUCKET"
	envAccessKey     = "ARB_S3_ACCESS_KEY"
	envSecretKey     = "ARB_S3_SECRET_KEY"
	envPrefix        = "ARB_JOURNAL_PREFIX"
	envFlushInterval = "ARB_JOURNAL_FLUSH_INTERVAL"
	envBatchRows     = "ARB_JOURNAL_BATCH_ROWS"
)

// Config locates the journal bucket and sets how often files are cut.
type Config struct {
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	Region        string
	Prefix        string
	FlushInterval time.Duration
	BatchRows     int
}

// DefaultConfig cuts a file every 15 minutes or 1000 legs.
func DefaultConfig() Config {
	return Config{
		Region:        "us-east-1",
		Prefix:        "arb/journal/",
		FlushInterval: 15 * time.Minute,
		BatchRows:     1000,
	}
}

// Validate reports every missing or invalid field.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"s3 endpoint":   c.Endpoint,
		"s3 bucket":     c.Bucket,
		"s3 access key": c.AccessKey,
		"s3 secret key": c.SecretKey,
		"s3 region":     c.Region,
		"object prefix": c.Prefix,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush interval must be positive"))
	}
	if c.BatchRows <= 0 {
		errs = append(errs, errors.New("batch rows must be positive"))
	}
	return errors.Join(errs...)
}

// FromEnv reads the S3 target and journal cadence.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.Endpoint = os.Getenv(envEndpoint)
	cfg.Bucket = os.Getenv(envBucket)
	cfg.AccessKey = os.Getenv(envAccessKey)
	cfg.SecretKey = os.Getenv(envSecretKey)
	if v := os.Getenv(envPrefix); v != "" {
		cfg.Prefix = v
	}
	if v := os.Getenv(envFlushInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envFlushInterval, err)
		}
		cfg.FlushInterval = d
	}
	if v := os.Getenv(envBatchRows); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envBatchRows, err)
		}
		cfg.BatchRows = n
	}
	return cfg, cfg.Validate()
}
