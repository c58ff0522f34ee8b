package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rexbrahh/amm-arb/api/http/cache"
	"github.com/rexbrahh/amm-arb/chain"
	"github.com/rexbrahh/amm-arb/engine"
	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/execution/redislock"
	"github.com/rexbrahh/amm-arb/ingestor/common"
	"github.com/rexbrahh/amm-arb/ingestor/geyser"
	"github.com/rexbrahh/amm-arb/ingestor/helius"
	"github.com/rexbrahh/amm-arb/ingestor/poller"
	"github.com/rexbrahh/amm-arb/observability"
	"github.com/rexbrahh/amm-arb/pool"
	natsx "github.com/rexbrahh/amm-arb/sinks/nats"
)

const (
	envSource         = "ARB_SOURCE"
	envGeyserFilter   = "ARB_GEYSER_FILTER_PATH"
	envHeliusFallback = "ARB_HELIUS_FALLBACK"
	envMetricsAddr    = "ARB_METRICS_ADDR"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("arb stopped", zap.Error(err))
	}
	logger.Info("arb stopped")
}

func run(ctx context.Context, logger *zap.Logger) error {
	cfg, err := engine.LoadConfig(engine.ConfigPathFromEnv())
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}
	if cfg.Execute && !cfg.Paper {
		return errors.New("live execution is not supported: set ARB_PAPER=true or disable ARB_EXECUTE")
	}

	reg := observability.NewRegistry()
	decoder := pool.NewDecoder(cfg.MintMetadata())
	store := pool.NewStore()

	chainCfg, err := chain.FromEnv()
	if err != nil {
		return fmt.Errorf("load chain config: %w", err)
	}
	client, err := chain.New(chainCfg, logger.Named("chain"))
	if err != nil {
		return fmt.Errorf("init chain client: %w", err)
	}
	addrs, err := cfg.Poller.Addresses()
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithRegisterer(reg),
		engine.WithFeeOracle(chain.FeeOracle{Client: client, Accounts: addrs}),
	}

	cacheCfg, err := cache.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load redis config: %w", err)
	}
	var locker execution.PoolLocker
	if cacheCfg.Enabled {
		scanCache, err := cache.New(cacheCfg)
		if err != nil {
			return fmt.Errorf("init redis cache: %w", err)
		}
		defer scanCache.Close()
		opts = append(opts, engine.WithCache(scanCache))

		rdb := redis.NewClient(&redis.Options{Addr: cacheCfg.Addr, Password: cacheCfg.Password, DB: cacheCfg.DB})
		defer rdb.Close()
		locker = redislock.New(rdb, cfg.Execution.LockTTL)
	}

	var balances execution.BalanceReader = client
	if cfg.Paper {
		wallet := execution.NewPaperWallet(store, cfg.Limits.HomeMint, cfg.Limits.Fees.NetworkFee)
		wallet.Credit(cfg.Limits.HomeMint, cfg.PaperBalance)
		balances = wallet
		logger.Info("paper wallet enabled", zap.Uint64("balance", cfg.PaperBalance))

		if cfg.Execute {
			coordOpts := []execution.Option{
				execution.WithLogger(logger.Named("execution")),
				execution.WithRegisterer(reg),
			}
			if locker != nil {
				coordOpts = append(coordOpts, execution.WithLocker(locker))
			}
			coord, err := execution.NewCoordinator(cfg.Execution, wallet, wallet, wallet, coordOpts...)
			if err != nil {
				return fmt.Errorf("init coordinator: %w", err)
			}
			opts = append(opts, engine.WithExecutor(coord))
		}
	}

	if os.Getenv("ARB_NATS_URL") != "" {
		natsCfg, err := natsx.FromEnv()
		if err != nil {
			return fmt.Errorf("load nats config: %w", err)
		}
		publisher, err := natsx.NewPublisher(natsCfg, logger.Named("publisher"), reg)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(); err != nil {
			return err
		}
		opts = append(opts, engine.WithPublisher(publisher))
	}

	eng, err := engine.New(cfg, store, balances, opts...)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	poll, err := poller.New(cfg.Poller, client, decoder, store, logger.Named("poller"), reg)
	if err != nil {
		return fmt.Errorf("init poller: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return observability.ServeMetrics(ctx, os.Getenv(envMetricsAddr), reg, logger.Named("metrics"))
	})

	switch source := os.Getenv(envSource); source {
	case "", "poll":
		g.Go(func() error { return poll.Run(ctx) })
	case "geyser":
		// Seed the store so the first scans do not wait for stream updates.
		if _, err := poll.Refresh(ctx); err != nil {
			logger.Warn("initial pool refresh incomplete", zap.Error(err))
		}
		stream, err := newStream(cfg, decoder, store, eng, logger, reg)
		if err != nil {
			return err
		}
		g.Go(func() error { return stream.Run(ctx) })
	default:
		return fmt.Errorf("invalid %s %q: want poll or geyser", envSource, source)
	}

	g.Go(func() error { return eng.Run(ctx) })

	logger.Info("arb engine started",
		zap.String("preset", cfg.Preset),
		zap.Int("pools", len(addrs)),
		zap.Bool("execute", cfg.Execute),
		zap.Bool("paper", cfg.Paper),
	)
	return g.Wait()
}

type runner interface {
	Run(ctx context.Context) error
}

func newStream(cfg engine.Config, decoder *pool.Decoder, store *pool.Store, eng *engine.Engine, logger *zap.Logger, reg prometheus.Registerer) (runner, error) {
	geyserCfg, err := geyser.LoadConfig(os.Getenv(envGeyserFilter))
	if err != nil {
		return nil, fmt.Errorf("load geyser config: %w", err)
	}
	if len(geyserCfg.Filter.Accounts) == 0 {
		geyserCfg.Filter.Accounts = cfg.Poller.Pools
	}
	if err := geyserCfg.Validate(); err != nil {
		return nil, err
	}

	processor := geyser.NewProcessor(decoder, store, common.NewSlotClock(), logger.Named("geyser"), reg)
	processor.OnUpdate(func(pool.State) { eng.Trigger() })

	primary, err := geyser.NewClient(geyserCfg, logger.Named("geyser-client"))
	if err != nil {
		return nil, fmt.Errorf("init geyser client: %w", err)
	}

	if os.Getenv(envHeliusFallback) != "1" {
		return geyser.NewService(primary, processor, logger.Named("geyser"))
	}

	heliusCfg, err := helius.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("load helius config: %w", err)
	}
	heliusCfg.Filter = geyserCfg.Filter
	fallback, err := helius.NewStreamClient(heliusCfg, logger.Named("helius-client"))
	if err != nil {
		return nil, fmt.Errorf("init helius client: %w", err)
	}
	logger.Info("helius fallback enabled")
	return geyser.NewFailoverService(primary, fallback, processor, logger.Named("failover"), reg)
}
