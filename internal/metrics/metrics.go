// Package metrics holds the Prometheus collectors exported by pw watch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "posturewatch"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so one-shot scans can skip registration entirely.
type Metrics struct {
	gatherer prometheus.Gatherer

	scansTotal         *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	lastScanTimestamp  prometheus.Gauge
	resourcesProcessed *prometheus.CounterVec
	findingsTotal      *prometheus.CounterVec
	diagnosticsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	stateEntries       prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		scansTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "runs_total",
				Help:      "Total number of scans by result",
			},
			[]string{"result"},
		),
		scanDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "duration_seconds",
				Help:      "Duration of a full scan in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
		lastScanTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "last_completed_timestamp_seconds",
				Help:      "Unix time the last scan finished",
			},
		),
		resourcesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resource",
				Name:      "processed_total",
				Help:      "Resources processed by kind and terminal stage",
			},
			[]string{"kind", "stage"},
		),
		findingsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "finding",
				Name:      "detected_total",
				Help:      "Findings detected by rule, severity and status",
			},
			[]string{"rule", "severity", "status"},
		),
		diagnosticsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "diagnostics_total",
				Help:      "Recoverable errors recorded during scans",
			},
			[]string{"kind"},
		),
		notificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "sent_total",
				Help:      "Notification attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		stateEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "entries",
				Help:      "Fingerprints held in scan state",
			},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordScan records one finished scan. result is "ok", "timeout" or "error".
func (m *Metrics) RecordScan(result string, duration time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(result).Inc()
	m.scanDuration.Observe(duration.Seconds())
	m.lastScanTimestamp.Set(float64(finished.Unix()))
}

func (m *Metrics) RecordResource(kind, stage string) {
	if m == nil {
		return
	}
	m.resourcesProcessed.WithLabelValues(kind, stage).Inc()
}

func (m *Metrics) RecordFinding(rule, severity, status string) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(rule, severity, status).Inc()
}

func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.diagnosticsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordNotification(channel, result string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) SetStateEntries(n int) {
	if m == nil {
		return
	}
	m.stateEntries.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency labelled by chi route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		routePattern := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			routePattern = rc.RoutePattern()
		}
		status := strconv.Itoa(wrapped.statusCode)
		m.httpRequestsTotal.WithLabelValues(r.Method, routePattern, status).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, routePattern, status).Observe(time.Since(start).Seconds())
	})
}
