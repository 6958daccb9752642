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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mdao/lm-indexer/internal/application/factories/infrastructure"
	"github.com/mdao/lm-indexer/internal/config"
	"github.com/mdao/lm-indexer/internal/indexer"
	"github.com/mdao/lm-indexer/internal/indexer/projection"
	"github.com/mdao/lm-indexer/internal/infrastructure/postgres"
	redisInfra "github.com/mdao/lm-indexer/internal/infrastructure/redis"
	"github.com/mdao/lm-indexer/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.New()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})).
		With("service", cfg.App.Name, "version", cfg.App.Version)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("indexer metrics listening", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	pool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return 1
	}
	applied, err := postgres.Migrate(ctx, pool)
	if err != nil {
		logger.Error("failed to migrate postgres", "error", err)
		return 1
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "files", applied)
	}

	stores, err := infraFactory.Stores(ctx)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		return 1
	}
	cursors, err := infraFactory.CursorStore(ctx)
	if err != nil {
		logger.Error("failed to open cursor store", "backend", cfg.Cursor.Backend, "error", err)
		return 1
	}

	monitor := worker.NewCursorMonitor(cursors, infraFactory.Subscription(), cfg.Metrics.CursorPoll, prometheus.DefaultRegisterer, logger)
	go monitor.Run(ctx)

	// Without redis the API serves cached markets until their TTL expires.
	var cache projection.CacheInvalidator
	if redisClient, err := infraFactory.Redis(ctx); err != nil {
		logger.Warn("redis unavailable, cache invalidation disabled", "error", err)
	} else {
		cache = redisInfra.NewLaborMarketCache(redisClient, cfg.Redis.CacheTTL, logger)
	}

	router := indexer.NewRouter()
	handlers := projection.All(projection.Deps{
		Tx:              stores.Tx,
		LaborMarkets:    stores.LaborMarkets,
		ServiceRequests: stores.ServiceRequests,
		Submissions:     stores.Submissions,
		Cache:           cache,
	})
	for name, h := range handlers {
		if err := router.Register(name, h); err != nil {
			logger.Error("failed to register handler", "event", name, "error", err)
			return 1
		}
	}

	pipeline := &indexer.Pipeline{
		Source:       infraFactory.Source(),
		Router:       router,
		Checkpoints:  indexer.NewCheckpointer(cursors, infraFactory.Subscription(), cfg.Indexer.CheckpointEvery),
		Logger:       logger,
		Metrics:      indexer.NewMetrics(prometheus.DefaultRegisterer),
		MaxRetries:   cfg.Indexer.MaxRetries,
		RetryBase:    cfg.Indexer.RetryBase,
		RetryMax:     cfg.Indexer.RetryMax,
		DrainTimeout: cfg.Indexer.DrainTimeout,
	}

	if err := pipeline.Run(ctx); err != nil {
		attrs := []any{"error", err}
		if fatal, ok := indexer.AsFatal(err); ok {
			attrs = append(attrs, "kind", fatal.Kind, "position", fatal.Position.String(), "event", fatal.Event)
		}
		logger.Error("indexer stopped on unrecovered error", attrs...)
		return 1
	}

	logger.Info("indexer exiting")
	return 0
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}
