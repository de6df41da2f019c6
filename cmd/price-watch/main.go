// Command price-watch follows the price event stream and alerts on large
// price moves.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/events"
	"github.com/maltedev/price-updater/internal/logging"
	"github.com/maltedev/price-updater/internal/notify"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	if !cfg.RedisEnabled() {
		logger.Error("REDIS_ADDR is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}

	watcher := events.NewPriceWatcher(
		cfg.Watch.AlertThreshold,
		notify.FromConfig(cfg.Notify, logger),
		cfg.Notify.Recipients,
		logger,
	)

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream: cfg.Redis.Stream,
		Group:  cfg.Watch.Group,
		Name:   cfg.Watch.Consumer,
		Block:  cfg.Watch.Block,
	}, watcher.Handle, ratelimit.Sleeper{}, logger)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}
