// Package metrics exposes the viewer's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	events              *prometheus.CounterVec
	staleCompletions    *prometheus.CounterVec
	tableFetchFailures  prometheus.Counter
	sessionsActive      prometheus.Gauge
	framesDropped       prometheus.Counter
}

// New creates a fresh Metrics registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoview",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoview",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoview",
			Name:      "view_events_total",
			Help:      "View events handled by session controllers, by kind",
		}, []string{"kind"}),
		staleCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoview",
			Name:      "stale_completions_total",
			Help:      "Async completions discarded because a newer map was selected",
		}, []string{"source"}),
		tableFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geoview",
			Name:      "table_fetch_failures_total",
			Help:      "Dataset fetches that ended in the failed table state",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geoview",
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geoview",
			Name:      "sse_frames_dropped_total",
			Help:      "Frames skipped for slow SSE subscribers",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.events,
		m.staleCompletions,
		m.tableFetchFailures,
		m.sessionsActive,
		m.framesDropped,
	)
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncEvent counts a handled view event.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// IncStale counts a discarded completion from source ("style" or "table").
func (m *Metrics) IncStale(source string) {
	if m == nil {
		return
	}
	m.staleCompletions.WithLabelValues(source).Inc()
}

// IncTableFailure counts a failed dataset fetch.
func (m *Metrics) IncTableFailure() {
	if m == nil {
		return
	}
	m.tableFetchFailures.Inc()
}

// SetSessions sets the active session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// AddDroppedFrames counts frames skipped for slow subscribers.
func (m *Metrics) AddDroppedFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesDropped.Add(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
