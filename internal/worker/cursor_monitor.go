// Package worker holds background loops that run beside the indexer.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

// CursorMonitor polls the saved cursor of a subscription and exports its
// position and age, so a stalled indexer shows up even when its process is
// gone.
type CursorMonitor struct {
	store    storage.CursorStore
	sub      cursor.Subscription
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	position prometheus.Gauge
	age      prometheus.Gauge
	errors   prometheus.Counter
}

func NewCursorMonitor(store storage.CursorStore, sub cursor.Subscription, interval time.Duration, reg prometheus.Registerer, logger *slog.Logger) *CursorMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"subscription": sub.Key()}
	return &CursorMonitor{
		store:    store,
		sub:      sub,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		position: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "cursor_saved_position",
			Help:        "Position stored for the subscription, -1 before the first event",
			ConstLabels: labels,
		}),
		age: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "cursor_age_seconds",
			Help:        "Seconds since the stored position last moved",
			ConstLabels: labels,
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name:        "cursor_poll_errors_total",
			Help:        "The total number of failed cursor reads",
			ConstLabels: labels,
		}),
	}
}

func (m *CursorMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("cursor monitor started", "subscription", m.sub.Key(), "interval", m.interval)
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *CursorMonitor) poll(ctx context.Context) {
	cp, err := m.store.LoadCheckpoint(ctx, m.sub)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.position.Set(float64(cursor.Beginning))
		m.age.Set(0)
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		m.errors.Inc()
		m.logger.Warn("failed to read cursor", "subscription", m.sub.Key(), "error", err)
	default:
		m.position.Set(float64(cp.Position))
		m.age.Set(m.now().Sub(cp.UpdatedAt).Seconds())
	}
}
