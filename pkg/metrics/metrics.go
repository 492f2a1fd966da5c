// Package metrics defines the Prometheus collectors used across the pipeline
// and exposes an HTTP handler for scraping. All observation helpers accept a
// nil *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SagaStepsTotal       *prometheus.CounterVec
	SagaDuration         *prometheus.HistogramVec
	CompensationsTotal   *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexedDocuments     prometheus.Gauge
	IndexFlushesTotal    *prometheus.CounterVec
	OCRResultsTotal      *prometheus.CounterVec
	OCRDuration          *prometheus.HistogramVec
	WorkerState          *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses
// the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SagaStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_steps_total",
				Help: "Saga steps by operation, step and outcome (ok, error).",
			},
			[]string{"operation", "step", "outcome"},
		),
		SagaDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "saga_duration_seconds",
				Help:    "End-to-end saga latency by operation and result kind.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "result"},
		),
		CompensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_compensations_total",
				Help: "Compensating actions by operation, action and outcome.",
			},
			[]string{"operation", "action", "outcome"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Bus publishes by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		IndexedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexed_documents",
				Help: "Documents currently held by the search index.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Index snapshot writes by status.",
			},
			[]string{"status"},
		),
		OCRResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_results_total",
				Help: "OCR attempts by outcome (processed or an error kind).",
			},
			[]string{"outcome"},
		),
		OCRDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocr_duration_seconds",
				Help:    "Text extraction latency by document kind.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		WorkerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ocr_worker_state",
				Help: "1 for the OCR worker's current state, 0 otherwise.",
			},
			[]string{"state"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SagaStepsTotal,
		m.SagaDuration,
		m.CompensationsTotal,
		m.EventsPublishedTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexedDocuments,
		m.IndexFlushesTotal,
		m.OCRResultsTotal,
		m.OCRDuration,
		m.WorkerState,
		m.CircuitBreakerState,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveStep counts one saga step.
func (m *Metrics) ObserveStep(operation, step string, err error) {
	if m == nil {
		return
	}
	m.SagaStepsTotal.WithLabelValues(operation, step, outcome(err)).Inc()
}

// ObserveSaga records a finished saga; result is an error kind or "ok".
func (m *Metrics) ObserveSaga(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SagaDuration.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCompensation(operation, action string, err error) {
	if m == nil {
		return
	}
	m.CompensationsTotal.WithLabelValues(operation, action, outcome(err)).Inc()
}

func (m *Metrics) ObservePublish(topic string, err error) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(topic, outcome(err)).Inc()
}

func (m *Metrics) ObserveSearch(resultType, cacheStatus string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	switch cacheStatus {
	case "hit":
		m.CacheHitsTotal.Inc()
	case "miss":
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) SetIndexedDocuments(n int) {
	if m == nil {
		return
	}
	m.IndexedDocuments.Set(float64(n))
}

func (m *Metrics) ObserveFlush(err error) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveOCR(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OCRResultsTotal.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.OCRDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// SetWorkerState flips the one-hot worker state gauge to current.
func (m *Metrics) SetWorkerState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.WorkerState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetCircuitState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
