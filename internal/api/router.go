package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mdao/lm-indexer/internal/api/middleware"
	redisinfra "github.com/mdao/lm-indexer/internal/infrastructure/redis"
)

type RouterConfig struct {
	// Idempotency backs the Idempotency-Key middleware; nil disables it.
	Idempotency redisinfra.Commander
	Registerer  prometheus.Registerer
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)
	r.Use(middleware.Metrics(cfg.Registerer))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/labor-markets", func(r chi.Router) {
		r.Get("/", h.SearchLaborMarkets)
		r.Route("/{address}", func(r chi.Router) {
			r.Get("/", h.GetLaborMarket)
			r.Get("/service-requests", h.SearchServiceRequests)
			r.Get("/service-requests/{id}", h.GetServiceRequest)
			r.Get("/submissions/{id}", h.GetSubmission)
		})
	})
	r.Get("/submissions", h.SearchSubmissions)

	r.With(middleware.Idempotency(cfg.Idempotency, cfg.Logger)).Post("/api/indexer/labor-markets", h.IndexLaborMarket)

	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	return r
}
