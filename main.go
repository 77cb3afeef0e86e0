package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/analytics"
	"confluence-trading-bot/internal/api"
	"confluence-trading-bot/internal/bot"
	"confluence-trading-bot/internal/cache"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/logging"
	"confluence-trading-bot/internal/position"
	"confluence-trading-bot/internal/pricefeed"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sim"
	"confluence-trading-bot/internal/sweep"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)
	sessionID := uuid.New().String()
	logger.Info().
		Str("session_id", sessionID).
		Str("symbol", cfg.TradingConfig.Symbol).
		Msg("paper trading engine starting")

	ctx := context.Background()

	// Database
	db, err := database.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	repo := database.NewRepository(db)
	if err := repo.EnsurePaperConfig(ctx, cfg.TradingConfig.StartingBalance); err != nil {
		logger.Fatal().Err(err).Msg("paper config init failed")
	}

	// Redis quote cache, optional. A failed connection degrades to
	// direct fetches instead of aborting startup.
	var cs *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cs, err = cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis disabled")
			cs = nil
		} else {
			defer cs.Close()
		}
	}

	// Pipeline components
	feed := pricefeed.NewClient(cfg.PriceFeedConfig, cs, logger)
	detector := sweep.NewDetector(cfg.SweepConfig, logger)
	calc := risk.NewCalculator(cfg.TradingConfig, repo, logger)
	exec := sim.NewExecutor(cfg.TradingConfig, calc, logger)
	positions := position.NewManager(cfg.TradingConfig, repo, feed, exec, logger)
	reporter := analytics.NewReporter(repo, cs, logger)

	engine := bot.NewEngine(*cfg, repo, feed, detector, exec, positions, reporter, cs, sessionID, logger)
	engine.Start()

	// Monitoring API
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(*cfg, repo, reporter, cs, sessionID, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("monitoring server failed")
			}
		}()
	}

	// Block until shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	engine.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}

	logger.Info().Msg("shutdown complete")
}
