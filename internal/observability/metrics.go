package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "purrcast"

// Metrics holds the Prometheus collectors for ingestion, prediction dispatch,
// forecasting and upvotes.
type Metrics struct {
	IngestTotal         *prometheus.CounterVec   // labels: outcome={success,validation_error,content_rejected,...}
	IngestStageDuration *prometheus.HistogramVec // labels: stage={normalize,gate,upload,persist}
	ContentGate         *prometheus.CounterVec   // labels: decision={accepted,rejected,error}

	PredictionsDispatched prometheus.Counter
	PredictionJobs        *prometheus.CounterVec // labels: outcome={success,retry,dead_letter}
	SweepRedispatched     prometheus.Counter

	ForecastLookups *prometheus.CounterVec // labels: scope, result={found,absent}
	ForecastCache   *prometheus.CounterVec // labels: result={hit,miss}

	Upvotes *prometheus.CounterVec // labels: outcome={created,conflict,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.IngestTotal,
		m.IngestStageDuration,
		m.ContentGate,
		m.PredictionsDispatched,
		m.PredictionJobs,
		m.SweepRedispatched,
		m.ForecastLookups,
		m.ForecastCache,
		m.Upvotes,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as many
// services as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Image ingestion attempts by outcome.",
		}, []string{"outcome"}),
		IngestStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_stage_duration_seconds",
			Help:      "Duration of each synchronous ingestion stage.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		ContentGate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_gate_total",
			Help:      "Content gate decisions.",
		}, []string{"decision"}),
		PredictionsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_dispatched_total",
			Help:      "Prediction jobs handed to the dispatch queue.",
		}),
		PredictionJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_jobs_total",
			Help:      "Prediction job submission attempts by outcome.",
		}, []string{"outcome"}),
		SweepRedispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_sweep_redispatched_total",
			Help:      "Posts re-dispatched because their classification never arrived.",
		}),
		ForecastLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_lookups_total",
			Help:      "Forecast lookups by scope and result.",
		}, []string{"scope", "result"}),
		ForecastCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_cache_total",
			Help:      "Forecast cache lookups by result.",
		}, []string{"result"}),
		Upvotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upvotes_total",
			Help:      "Upvote attempts by outcome.",
		}, []string{"outcome"}),
	}
}
