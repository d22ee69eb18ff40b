package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the nowcast monitor.
type Metrics struct {
	Cycles           *prometheus.CounterVec // labels: outcome={ok,no_data,failed}
	CycleDuration    prometheus.Histogram
	LastCycleSuccess prometheus.Gauge
	MonitorRunning   prometheus.Gauge

	// Feed metrics.
	CatalogFetches *prometheus.CounterVec   // labels: kind={N1,N2}, result={hit,fetched,error,empty}
	Decodes        *prometheus.CounterVec   // labels: outcome={ok,error}
	FeedRequests   *prometheus.HistogramVec // labels: kind={catalog,tile}, status
	FeedRetries    prometheus.Counter

	ObservationsStored prometheus.Counter
	Notifications      *prometheus.CounterVec // labels: kind, outcome={sent,failed,cooldown,skipped}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Cycles,
		m.CycleDuration,
		m.LastCycleSuccess,
		m.MonitorRunning,
		m.CatalogFetches,
		m.Decodes,
		m.FeedRequests,
		m.FeedRetries,
		m.ObservationsStored,
		m.Notifications,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nowcast",
			Name:      "cycles_total",
			Help:      "Ingestion cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nowcast",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete ingestion cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		LastCycleSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nowcast",
			Name:      "last_cycle_success",
			Help:      "1 if the last cycle completed without a fatal error.",
		}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nowcast",
			Name:      "monitor_running",
			Help:      "1 when the polling loop is active, 0 when shut down.",
		}),
		CatalogFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nowcast",
			Name:      "catalog_fetches_total",
			Help:      "Time catalog lookups by kind and result.",
		}, []string{"kind", "result"}),
		Decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nowcast",
			Name:      "decodes_total",
			Help:      "Tile decodes by outcome.",
		}, []string{"outcome"}),
		FeedRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nowcast",
			Name:      "feed_request_duration_seconds",
			Help:      "Feed HTTP request duration by request kind and final status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "status"}),
		FeedRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nowcast",
			Name:      "feed_retries_total",
			Help:      "Feed requests retried after a transient failure.",
		}),
		ObservationsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nowcast",
			Name:      "observations_stored_total",
			Help:      "Observation rows appended to the store.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nowcast",
			Name:      "notifications_total",
			Help:      "Notification evaluations by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}
