package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trade-bot-control-plane/internal/accounting"
	"trade-bot-control-plane/internal/botlog"
	"trade-bot-control-plane/internal/config"
	"trade-bot-control-plane/internal/database"
	"trade-bot-control-plane/internal/dispatch"
	"trade-bot-control-plane/internal/exchange"
	"trade-bot-control-plane/internal/logger"
	"trade-bot-control-plane/internal/metrics"
	"trade-bot-control-plane/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	log.Info("Database connection successful and schema migrated.")

	registry := exchange.NewRegistryFromConfig(&cfg, log)

	store := accounting.NewStore(db, accounting.PlansFromConfig(cfg.Plans), log)

	dbSink := botlog.NewDBSink(db, cfg.Trading.LogBufferSize, log)
	defer dbSink.Close()
	sink := botlog.Multi{botlog.NewZapSink(log), dbSink}

	m := metrics.New()
	engine := trader.NewEngine(log, registry, store, store, sink, m, cfg.Trading.DryRun)

	api := trader.NewAPIServer(engine, cfg.Server.ApiPort, m.Handler(), log)
	api.Start()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Signals arrive as JSON lines on stdin; results go to stdout.
	dispatcher := dispatch.NewDispatcher(store, engine, cfg.Trading.MaxConcurrency, log)

	// SIGHUP drops cached bots, e.g. after an admin unpaused a bot or reset usage.
	go func() {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				log.Info("Reloading bots from the database")
				dispatcher.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Signal dispatcher stopped", zap.Error(err))
		} else {
			log.Info("Signal input closed")
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
