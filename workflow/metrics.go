package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the workflow instruments.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Active   prometheus.Gauge
	Panics   prometheus.Counter
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the instruments and registers them on reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailglot",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Workflow runs by operation and final state.",
		}, []string{"op", "state"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mailglot",
			Subsystem: "workflow",
			Name:      "active",
			Help:      "Workflows currently running.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailglot",
			Subsystem: "workflow",
			Name:      "panics_total",
			Help:      "Workflow panics recovered.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailglot",
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Workflow run duration by operation.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Active, m.Panics, m.Duration)
	}
	return m
}
