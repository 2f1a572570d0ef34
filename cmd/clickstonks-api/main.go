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

	"golang.org/x/sync/errgroup"

	"clickstonks/internal/api"
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

	store, closeStore, err := db.Open(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns}, logger)
	if err != nil {
		logger.Error("db open failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	marketSvc := market.NewService(store, logger, market.WithRandomSource(market.NewRandomSource(cfg.RandomSeed)))
	gameSvc := game.NewService(store, marketSvc, logger)
	if cfg.SeedDefaults {
		if err := gameSvc.SeedDefaults(ctx, cfg.Market); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	server := api.New(cfg, logger, marketSvc, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.SchedulerEnabled() {
		sched, err := scheduler.New(logger, marketSvc.Now, gameSvc.Jobs(cfg.MarketTickEvery, cfg.PlayerTickEvery)...)
		if err != nil {
			logger.Error("scheduler init failed", "err", err)
			os.Exit(1)
		}
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("clickstonks api listening", "addr", cfg.Addr, "scheduler", cfg.SchedulerEnabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
