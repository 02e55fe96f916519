package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/config"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/events"
	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/internal/probe"
	"github.com/aristath/backmarket-repricer/internal/ratelimit"
	"github.com/aristath/backmarket-repricer/internal/reprice"
	"github.com/aristath/backmarket-repricer/internal/scheduler"
	"github.com/aristath/backmarket-repricer/internal/server"
	"github.com/aristath/backmarket-repricer/internal/store"
	"github.com/aristath/backmarket-repricer/internal/sync"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logger.New(logger.Config{Level: "info", Pretty: true})
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting backmarket-repricer")

	localStore, err := store.New(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer localStore.Close()

	if err := localStore.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run local store migration")
	}

	clk := clock.Real{}
	em := events.NewManager(log)

	// Persisted rate-limit overrides take precedence over environment
	// defaults, if any have ever been saved.
	rateLimits := cfg.RateLimits
	if persisted, ok, err := localStore.GetRateLimitConfig(context.Background()); err != nil {
		log.Warn().Err(err).Msg("loading persisted rate limit config failed, using environment defaults")
	} else if ok {
		rateLimits = *persisted
	}

	controller := ratelimit.New(ratelimit.Config{
		Clock:      clk,
		RateLimits: rateLimits,
		Log:        log,
		LogSink: func(entry domain.DispatchLogEntry) {
			log.Debug().
				Str("priority", entry.Priority.String()).
				Str("outcome", string(entry.Outcome)).
				Str("url", entry.URL).
				Int("status", entry.ResponseStatus).
				Int64("duration_ms", entry.DurationMS).
				Msg("dispatch")
		},
	})

	marketClient := marketplace.NewClient(controller, cfg.MarketplaceBaseURL, cfg.MarketplaceToken, log)

	orchestrator := reprice.New(marketClient, localStore, clk, em, cfg.DefaultCountry, log)
	probeProtocol := probe.New(marketClient, clk, cfg.ProbeMinPrice, cfg.DefaultCountry, localStore, log)
	syncDriver := sync.New(marketClient, localStore, []byte(cfg.WebhookSecret), clk, em, log)

	sched := scheduler.New(clk, em, log)

	buybackPayload := func() ([]byte, error) {
		return localStore.BuildBuybackCatalogPayload(context.Background(), cfg.BuybackMarginRate)
	}

	if err := sched.AddStandingTask(scheduler.NewSyncOrdersJob(syncDriver), 15*time.Minute); err != nil {
		log.Fatal().Err(err).Msg("failed to register sync orders task")
	}
	if err := sched.AddStandingTask(scheduler.NewSyncListingsJob(syncDriver), 60*time.Minute); err != nil {
		log.Fatal().Err(err).Msg("failed to register sync listings task")
	}
	if err := sched.AddStandingTask(scheduler.NewRepriceFleetJob(localStore, orchestrator), 15*time.Minute); err != nil {
		log.Fatal().Err(err).Msg("failed to register reprice fleet task")
	}
	if err := sched.AddStandingTask(scheduler.NewRecomputeBuybackPricesJob(marketClient, buybackPayload), 60*time.Minute); err != nil {
		log.Fatal().Err(err).Msg("failed to register recompute buyback prices task")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		Store:        localStore,
		Controller:   controller,
		Market:       marketClient,
		Orchestrator: orchestrator,
		Probe:        probeProtocol,
		SyncDriver:   syncDriver,
		Scheduler:    sched,
		DevMode:      cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("admin HTTP server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin HTTP server forced to shutdown")
	}
	controller.Shutdown(shutdownTimeout)

	log.Info().Msg("shutdown complete")
}
