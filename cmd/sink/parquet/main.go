package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/sinks/parquet"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := parquet.ServiceConfigFromEnv()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := parquet.NewService(cfg, logger.Named("sink-parquet"))
	if err != nil {
		logger.Fatal("init service", zap.Error(err))
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service run failed", zap.Error(err))
	}
	logger.Info("service stopped")
}
