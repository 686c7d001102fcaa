// Package trace registers the "sqlite-trace" database/sql driver: the
// modernc.org/sqlite driver with every statement logged through slog and
// timed in a prometheus histogram. Select it with
//
//	dbopen.Open(path, dbopen.WithDriver(trace.DriverName))
//
// Statements carry the request id, node key and run id found in their
// context (kit), so a slow settings write can be tied to the admin
// request or the workflow run that issued it.
package trace

import (
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sqlite "modernc.org/sqlite"
)

// DriverName is the name the tracing driver is registered under.
const DriverName = "sqlite-trace"

// Slow is the duration above which a statement is logged at warn level.
const Slow = 100 * time.Millisecond

// Metrics times statements by operation ("exec", "query").
type Metrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewMetrics registers the SQL metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailglot",
			Subsystem: "sql",
			Name:      "statement_duration_seconds",
			Help:      "SQLite statement latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailglot",
			Subsystem: "sql",
			Name:      "statement_errors_total",
			Help:      "Failed SQLite statements.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.duration, m.errors)
	return m
}

var metrics atomic.Pointer[Metrics]

// SetMetrics routes statement timings to m. Nil stops recording.
func SetMetrics(m *Metrics) { metrics.Store(m) }

func init() {
	sql.Register(DriverName, &Driver{Driver: &sqlite.Driver{}})
}
