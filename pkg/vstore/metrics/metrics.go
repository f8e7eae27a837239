// Package metrics exposes prometheus collectors for sessions, uploads and previews.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tendant/simple-vstore/pkg/vstore/admission"
)

const namespace = "vstore"

// Metrics holds the collectors registered by New.
type Metrics struct {
	sessionsCreated prometheus.Counter
	uploads         *prometheus.CounterVec
	uploadedBytes   prometheus.Counter
	previews        *prometheus.CounterVec
	previewDuration prometheus.Histogram
	reaped          prometheus.Counter
	registerer      prometheus.Registerer
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Upload sessions created.",
		}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by result.",
		}, []string{"result"}),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of committed uploads.",
		}),
		previews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_total",
			Help:      "Preview requests by terminal state.",
		}, []string{"outcome"}),
		previewDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preview_duration_seconds",
			Help:      "Time spent producing previews.",
			Buckets:   prometheus.DefBuckets,
		}),
		reaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Expired sessions removed by the reaper.",
		}),
	}
}

// RegisterBudget exports the usage of a memory budget as gauges.
func (m *Metrics) RegisterBudget(b *admission.MemoryBudget) {
	if m == nil || b == nil {
		return
	}
	factory := promauto.With(m.registerer)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_budget_in_use_bytes",
		Help:      "Bytes currently reserved for image processing.",
	}, func() float64 { return float64(b.InUse()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_budget_capacity_bytes",
		Help:      "Configured memory budget for image processing.",
	}, func() float64 { return float64(b.Capacity()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memory_budget_denied_total",
		Help:      "Reservations rejected by the memory budget.",
	}, func() float64 { return float64(b.Denied()) })
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// UploadFinished records an upload result: "committed", "invalid" or "aborted".
func (m *Metrics) UploadFinished(result string, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
	if result == "committed" {
		m.uploadedBytes.Add(float64(size))
	}
}

func (m *Metrics) PreviewFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.previews.WithLabelValues(outcome).Inc()
	m.previewDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SessionsReaped(n int) {
	if m == nil {
		return
	}
	m.reaped.Add(float64(n))
}
