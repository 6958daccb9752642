package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdao/lm-indexer/internal/api"
	"github.com/mdao/lm-indexer/internal/application/factories/infrastructure"
	"github.com/mdao/lm-indexer/internal/config"
	redisInfra "github.com/mdao/lm-indexer/internal/infrastructure/redis"
	"github.com/mdao/lm-indexer/internal/usecase"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})).
		With("service", cfg.App.Name+"-api")
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	stores, err := infraFactory.Stores(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	// Redis is optional for reads: without it the cache and idempotency keys
	// are disabled.
	var (
		cache    usecase.LaborMarketCache
		idemKeys redisInfra.Commander
	)
	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Warn("redis unavailable, serving without cache", "error", err)
	} else {
		cache = redisInfra.NewLaborMarketCache(redisClient, cfg.Redis.CacheTTL, logger)
		idemKeys = redisClient
	}

	uc := api.UseCases{
		GetLaborMarket:        usecase.NewGetLaborMarket(cache, stores.LaborMarkets),
		SearchLaborMarkets:    usecase.NewSearchLaborMarkets(stores.LaborMarkets),
		IndexLaborMarket:      usecase.NewIndexLaborMarket(stores.Tx, stores.LaborMarkets, cache),
		GetServiceRequest:     usecase.NewGetServiceRequest(stores.ServiceRequests),
		SearchServiceRequests: usecase.NewSearchServiceRequests(stores.ServiceRequests),
		GetSubmission:         usecase.NewGetSubmission(stores.Submissions),
		SearchSubmissions:     usecase.NewSearchSubmissions(stores.Submissions),
	}

	handlers := api.NewHandlers(uc, cfg.Dev.AutoIndexEnabled(), logger)
	apiHandler := api.NewRouter(handlers, api.RouterConfig{Idempotency: idemKeys, Logger: logger})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.HTTP.Port, "auto_index", cfg.Dev.AutoIndexEnabled())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exiting")
}
