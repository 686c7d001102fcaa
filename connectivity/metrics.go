package connectivity

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-service call instruments.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Breaker  *prometheus.GaugeVec
}

// NewMetrics creates and registers the call instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailglot",
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Remote service calls by service and outcome.",
		}, []string{"service", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailglot",
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Remote service call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		Breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mailglot",
			Subsystem: "remote",
			Name:      "breaker_state",
			Help:      "Service breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"service"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Duration, m.Breaker)
	}
	return m
}

// ObserveBreaker publishes a breaker transition. Safe on a nil Metrics.
func (m *Metrics) ObserveBreaker(service string, s BreakerState) {
	if m == nil {
		return
	}
	m.Breaker.WithLabelValues(service).Set(float64(s))
}

// WithMetrics records call count and latency for service. A nil Metrics
// makes it a pass-through.
func WithMetrics(m *Metrics, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		if m == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			m.Duration.WithLabelValues(service).Observe(time.Since(start).Seconds())
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.Calls.WithLabelValues(service, outcome).Inc()
			return resp, err
		}
	}
}
