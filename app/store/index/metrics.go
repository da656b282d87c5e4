package index

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics of bulk flushes and scroll pages. Nil *Metrics is valid and records nothing.
type Metrics struct {
	BulkFlushes    *prometheus.CounterVec
	BulkActions    *prometheus.CounterVec
	BulkDiscarded  *prometheus.CounterVec
	BulkDuration   *prometheus.HistogramVec
	ScrollPages    *prometheus.CounterVec
	ScrollExpiries *prometheus.CounterVec
}

// NewMetrics makes Metrics registered in reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BulkFlushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticrecord_bulk_flushes_total",
			Help: "Total number of bulk requests by outcome",
		}, []string{"alias", "status"}),
		BulkActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticrecord_bulk_actions_total",
			Help: "Total number of flushed bulk actions",
		}, []string{"alias", "action"}),
		BulkDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticrecord_bulk_discarded_total",
			Help: "Total number of pending actions discarded by aborted scopes",
		}, []string{"alias"}),
		BulkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elasticrecord_bulk_duration_seconds",
			Help:    "Duration of bulk requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"alias"}),
		ScrollPages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticrecord_scroll_pages_total",
			Help: "Total number of fetched scroll pages",
		}, []string{"alias"}),
		ScrollExpiries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticrecord_scroll_expired_total",
			Help: "Total number of scrolls found expired",
		}, []string{"alias"}),
	}
}

func (m *Metrics) bulkFlushed(alias string, actions []BulkAction, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.BulkFlushes.WithLabelValues(alias, status).Inc()
	m.BulkDuration.WithLabelValues(alias).Observe(took.Seconds())
	for _, a := range actions {
		m.BulkActions.WithLabelValues(alias, string(a.Type)).Inc()
	}
}

func (m *Metrics) bulkDiscarded(alias string, n int) {
	if m == nil {
		return
	}
	m.BulkDiscarded.WithLabelValues(alias).Add(float64(n))
}

func (m *Metrics) scrollPage(alias string) {
	if m == nil {
		return
	}
	m.ScrollPages.WithLabelValues(alias).Inc()
}

func (m *Metrics) scrollExpired(alias string) {
	if m == nil {
		return
	}
	m.ScrollExpiries.WithLabelValues(alias).Inc()
}
