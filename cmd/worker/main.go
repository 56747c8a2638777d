// Command worker runs the notification dispatch pipeline: it connects to
// RabbitMQ and Redis, declares the fixed topology, and consumes the
// three work queues until SIGINT/SIGTERM, processing at most one
// delivery at a time per §4.E's prefetch=1 contract.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sendwell/notifyworker/internal/broker"
	"github.com/sendwell/notifyworker/internal/config"
	"github.com/sendwell/notifyworker/internal/dispatch"
	"github.com/sendwell/notifyworker/internal/idempotency"
	"github.com/sendwell/notifyworker/internal/metrics"
	"github.com/sendwell/notifyworker/internal/pipeline"
	"github.com/sendwell/notifyworker/internal/retry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url", zap.Error(err))
		return 1
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	store := idempotency.NewRedisStore(redisClient)
	registry := dispatch.NewRegistry(cfg.ForceFailure, logger)
	pl := pipeline.New(store, registry, retry.Default(), metrics.NewPipeline(), logger)
	pl.DispatchTimeout = cfg.DispatchTimeout

	brokerCfg := broker.DefaultConfig()
	brokerCfg.URL = cfg.RabbitMQURL
	session := broker.NewSession(brokerCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		logger.Error("connect to broker", zap.Error(err))
		return 1
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown signal received, draining in-flight delivery")
		cancel()
	}()

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- session.Consume(ctx, func(ctx context.Context, d pipeline.Delivery) error {
			return pl.Process(ctx, d)
		})
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// Consume returns once the in-flight handler call (if any) has
		// finished; wait for it before closing the channel.
		runErr = <-consumeErr
	case runErr = <-consumeErr:
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := session.Close(closeCtx); err != nil {
		logger.Warn("error closing broker session", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("consume loop exited with error", zap.Error(runErr))
		return 1
	}
	logger.Info("worker shutdown complete")
	return 0
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
