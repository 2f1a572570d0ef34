package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"clickstonks/internal/config"
	"clickstonks/internal/db"
	"clickstonks/internal/game"
	"clickstonks/internal/market"
	"clickstonks/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if cfg.DatabaseURL == "" {
		logger.Error("worker needs DATABASE_URL, the in-memory store is private to one process")
		os.Exit(1)
	}

	store, closeStore, err := db.Open(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns}, logger)
	if err != nil {
		logger.Error("db open failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	marketSvc := market.NewService(store, logger, market.WithRandomSource(market.NewRandomSource(cfg.RandomSeed)))
	svc := game.NewService(store, marketSvc, logger)
	if cfg.SeedDefaults {
		if err := svc.SeedDefaults(ctx, cfg.Market); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	sched, err := scheduler.New(logger, marketSvc.Now, svc.Jobs(cfg.MarketTickEvery, cfg.PlayerTickEvery)...)
	if err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("CLICKSTONKS_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := sched.RunOnce(ctx); err != nil {
			logger.Error("run once failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	logger.Info("worker started",
		"market_tick_every", cfg.MarketTickEvery.String(),
		"player_tick_every", cfg.PlayerTickEvery.String(),
	)
	if err := sched.Run(ctx); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}
	logger.Info("worker shutdown")
}
