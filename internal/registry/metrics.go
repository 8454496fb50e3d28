package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the registry's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	registrations *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "registry",
			Name:      "probe_total",
			Help:      "Metadata probes by outcome.",
		}, []string{"outcome"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "registry",
			Name:      "probe_duration_seconds",
			Help:      "Metadata probe latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "registry",
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		}, []string{"result"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "registry",
			Name:      "refresh_total",
			Help:      "Refresh tasks by outcome.",
		}, []string{"outcome"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "registry",
			Name:      "refresh_queue_depth",
			Help:      "Refresh tasks waiting for a worker.",
		}),
	}
}

func (m *Metrics) observeProbe(res Result, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !res.OK {
		outcome = string(res.Reason)
	}
	m.probes.WithLabelValues(outcome).Inc()
	m.probeDuration.Observe(took.Seconds())
}

func (m *Metrics) observeRegistration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
