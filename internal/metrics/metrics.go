package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fluxquery/internal/results"
)

// Metrics records stream lifecycles. It implements results.Observer, so one
// value can be shared by every stream a process opens.
type Metrics struct {
	registry *prometheus.Registry

	// Submissions counts queries handed to a driver.
	Submissions prometheus.Counter
	// RowsDelivered counts rows received from drivers.
	RowsDelivered prometheus.Counter
	// Outcomes counts streams by terminal state.
	Outcomes *prometheus.CounterVec
	// QueryDuration is the time from submission to the terminal state.
	QueryDuration *prometheus.HistogramVec
	// RowsPerQuery is the number of rows a stream received before it ended.
	RowsPerQuery prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Submissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxquery_stream_submissions_total",
			Help: "Total number of queries submitted to a driver",
		}),
		RowsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxquery_stream_rows_total",
			Help: "Total number of rows delivered by drivers",
		}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxquery_stream_finished_total",
			Help: "Streams that reached a terminal state",
		}, []string{"state"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fluxquery_stream_duration_seconds",
			Help:    "Query latency from submission to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"state"}),
		RowsPerQuery: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fluxquery_stream_rows_per_query",
			Help:    "Rows received per query",
			Buckets: prometheus.ExponentialBuckets(1, 10, 8),
		}),
	}
}

func (m *Metrics) Submitted(int) {
	m.Submissions.Inc()
}

func (m *Metrics) RowDelivered() {
	m.RowsDelivered.Inc()
}

func (m *Metrics) Finished(state results.State, rows int, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(state.String()).Inc()
	m.QueryDuration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
	m.RowsPerQuery.Observe(float64(rows))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
