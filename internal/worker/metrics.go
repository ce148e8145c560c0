package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Items    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "worker",
		Name:      "items_total",
		Help:      "Work items handled, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: "worker",
		Name:      "item_duration_seconds",
		Help:      "Time spent handling one work item.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	reg.MustRegister(items, duration)
	return &Metrics{Items: items, Duration: duration}
}

func (m *Metrics) observe(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(string(outcome)).Inc()
	m.Duration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}
