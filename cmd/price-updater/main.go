package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-updater/internal/api"
	"github.com/maltedev/price-updater/internal/batch"
	"github.com/maltedev/price-updater/internal/browser"
	"github.com/maltedev/price-updater/internal/catalog"
	"github.com/maltedev/price-updater/internal/challenge"
	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/database"
	"github.com/maltedev/price-updater/internal/events"
	"github.com/maltedev/price-updater/internal/extract"
	"github.com/maltedev/price-updater/internal/logging"
	"github.com/maltedev/price-updater/internal/notify"
	"github.com/maltedev/price-updater/internal/pipeline"
	"github.com/maltedev/price-updater/internal/ratelimit"
	"github.com/maltedev/price-updater/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("price updater stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	delayer := ratelimit.Sleeper{}

	session, err := browser.OpenSession(
		browser.OptionsFromConfig(cfg.Browser),
		browser.StealthProfileFromConfig(cfg.Stealth),
		logger,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close browser session", "error", err)
		}
	}()

	detector, err := challenge.NewDetector(challenge.DetectorConfigFromConfig(cfg.Challenge))
	if err != nil {
		return err
	}
	solver := challenge.NewSolverClient(challenge.SolverClientConfigFromConfig(cfg.Solver), delayer, logger)
	resolver := challenge.NewResolver(detector, solver, challenge.ResolverConfigFromConfig(cfg.Challenge), delayer, logger)

	pipe := pipeline.New(pipeline.ConfigFromConfig(cfg), pipeline.Dependencies{
		Pages:     session,
		Profile:   browser.StealthProfileFromConfig(cfg.Stealth),
		Resolver:  resolver,
		Extractor: extract.NewExtractorFromConfig(cfg.Extract, delayer, logger),
		Delayer:   delayer,
		Logger:    logger,
	})

	jitter := ratelimit.NewJitter(time.Now().UnixNano())
	deps := batch.Dependencies{
		Acquirer: pipe,
		Catalog:  catalog.NewClientFromConfig(cfg.Catalog, logger),
		Notifier: notify.FromConfig(cfg.Notify, logger),
		Pacer:    ratelimit.NewAdaptivePacer(delayer, jitter, cfg.Batch.PaceDelay, cfg.Batch.PaceJitter),
		Delayer:  delayer,
		Logger:   logger,
	}

	var backlog api.OutboxBacklog
	if cfg.DatabaseEnabled() {
		db, err := database.New(ctx, database.ConfigFromConfig(cfg.Database))
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Recorder = events.NewRecorder(db, cfg.Redis.Stream, logger)

		if cfg.RedisEnabled() {
			relay, err := startRelay(ctx, db, cfg.Redis, logger)
			if err != nil {
				return err
			}
			backlog = relay
		} else {
			logger.Warn("REDIS_ADDR not set, price events stay in the outbox")
		}
	}

	runner := batch.NewRunner(batch.ConfigFromConfig(cfg), deps)

	if cfg.Server.Enabled {
		handlers := api.NewHandlers(ctx, runner, backlog, logger)
		server := api.NewServer(cfg.Server.Port, api.NewRouter(handlers))

		go func() {
			logger.Info("server starting", "port", cfg.Server.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
			logger.Info("waiting for requested runs to finish")
			handlers.Wait()
		}()
	}

	if cfg.Schedule.Cron != "" {
		sched := scheduler.New(runner, logger)
		if err := sched.Start(ctx, cfg.Schedule.Cron, cfg.Schedule.RunOnStart); err != nil {
			return err
		}
		<-ctx.Done()
		logger.Info("shutting down, waiting for the current run")
		<-sched.Stop().Done()
		return nil
	}

	if cfg.Server.Enabled {
		<-ctx.Done()
		return nil
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 || summary.UpdateErrors > 0 {
		logger.Warn("run finished with failures", "failed", summary.Failed, "update_errors", summary.UpdateErrors)
	}
	return nil
}

func startRelay(ctx context.Context, db *database.DB, cfg config.RedisConfig, logger *slog.Logger) (*database.Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	relay := database.NewRelay(database.NewOutboxRepository(db, cfg.Stream), client, logger, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		defer client.Close()
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped with error", "error", err)
		}
	}()
	return relay, nil
}
