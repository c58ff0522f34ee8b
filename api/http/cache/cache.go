package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rexbrahh/amm-arb/api/http/types"
	"github.com/rexbrahh/amm-arb/events"
)

// ErrDisabled indicates the cache layer is disabled via configuration.
var ErrDisabled = errors.New("redis cache disabled")

const (
	envAddr     = "ARB_REDIS_ADDR"
	envPassword = "ARB_REDIS_PASSWORD"
	envDB       = "ARB_REDIS_DB"
	envTTL      = "ARB_REDIS_TTL"

	defaultTTL = 5 * time.Minute

	scanKey    = "arb:scan:latest"
	poolKeyFmt = "arb:pool:%s"
)

// Config represents Redis client configuration options.
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// LoadConfigFromEnv constructs a Config from environment variables.
//
// Recognized variables:
//   - ARB_REDIS_ADDR (required to enable the cache)
//   - ARB_REDIS_PASSWORD (optional)
//   - ARB_REDIS_DB (defaults to 0)
//   - ARB_REDIS_TTL (parseable duration, defaults to 5m)
func LoadConfigFromEnv() (Config, error) {
	addr := os.Getenv(envAddr)
	if addr == "" {
		return Config{Enabled: false, TTL: defaultTTL}, nil
	}

	db := 0
	if rawDB := os.Getenv(envDB); rawDB != "" {
		parsed, err := strconv.Atoi(rawDB)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDB, err)
		}
		db = parsed
	}

	ttl := defaultTTL
	if rawTTL := os.Getenv(envTTL); rawTTL != "" {
		parsed, err := time.ParseDuration(rawTTL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envTTL, err)
		}
		ttl = parsed
	}

	return Config{
		Enabled:  true,
		Addr:     addr,
		Password: os.Getenv(envPassword),
		DB:       db,
		TTL:      ttl,
	}, nil
}

// Cache holds the engine's latest scan and pool snapshots in Redis so the
// API can serve them without touching the engine process.
type Cache struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Cache from the provided configuration.
func New(cfg Config) (*Cache, error) {
	if !cfg.Enabled {
		return &Cache{cfg: cfg}, nil
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Cache{client: client, cfg: cfg}, nil
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// SetScan replaces the latest scan.
func (c *Cache) SetScan(ctx context.Context, scan events.Scan) error {
	return c.set(ctx, scanKey, scan)
}

// GetScan returns the latest scan or types.ErrNotFound.
func (c *Cache) GetScan(ctx context.Context) (events.Scan, error) {
	var scan events.Scan
	err := c.get(ctx, scanKey, &scan)
	return scan, err
}

// SetPool stores the latest snapshot for a pool.
func (c *Cache) SetPool(ctx context.Context, snap events.PoolSnapshot) error {
	return c.set(ctx, fmt.Sprintf(poolKeyFmt, snap.Address), snap)
}

// GetPool returns the latest snapshot for a pool or types.ErrNotFound.
func (c *Cache) GetPool(ctx context.Context, address string) (events.PoolSnapshot, error) {
	var snap events.PoolSnapshot
	err := c.get(ctx, fmt.Sprintf(poolKeyFmt, address), &snap)
	return snap, err
}

func (c *Cache) set(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.cfg.TTL).Err()
}

func (c *Cache) get(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
