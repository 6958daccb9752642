package indexer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	processed *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	position  prometheus.Gauge
	state     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_processed_total",
			Help: "Events applied by a projection handler",
		}, []string{"event"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_skipped_total",
			Help: "Events with no registered handler",
		}, []string{"event"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_failed_total",
			Help: "Events whose handler failed permanently",
		}, []string{"event"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_handler_retries_total",
			Help: "Handler retries after a transient store error",
		}, []string{"event"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_handler_duration_seconds",
			Help:    "Time taken by one handler attempt",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"event"}),
		position: f.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_checkpoint_position",
			Help: "Last persisted cursor position",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_pipeline_state",
			Help: "0 stopped, 1 running, 2 draining",
		}),
	}
}

func (m *Metrics) observe(name string, started time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

func (m *Metrics) applied(name string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(name).Inc()
}

func (m *Metrics) skip(name string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(name).Inc()
}

func (m *Metrics) fail(name string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(name).Inc()
}

func (m *Metrics) retry(name string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(name).Inc()
}

func (m *Metrics) checkpoint(pos cursor.Position) {
	if m == nil {
		return
	}
	m.position.Set(float64(pos))
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
