// Package metrics exposes Prometheus instruments for ingestion, detection and HTTP handling.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in one process.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry          *prometheus.Registry
	ingestTotal       *prometheus.CounterVec
	detectionDuration *prometheus.HistogramVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uplinkdash",
			Name:      "uplinks_ingested_total",
			Help:      "Uplink records processed by source and outcome.",
		}, []string{"source", "outcome"}),
		detectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uplinkdash",
			Name:      "anomaly_detection_duration_seconds",
			Help:      "Time spent loading events and evaluating anomaly rules by scope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uplinkdash",
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uplinkdash",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestTotal,
		m.detectionDuration,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest counts one processed record. outcome is inserted, invalid or failed.
func (m *Metrics) ObserveIngest(source, outcome string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDetection records how long one detection call took.
func (m *Metrics) ObserveDetection(scope string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.detectionDuration.WithLabelValues(scope).Observe(elapsed.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
