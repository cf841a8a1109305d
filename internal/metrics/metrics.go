// Package metrics holds the Prometheus collectors for coinsentinel.
// Each Metrics value owns its registry, so independent instances (one per
// test, say) never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "coinsentinel"

// Refresh results.
const (
	RefreshOK          = "ok"
	RefreshFailedStale = "failed_stale"
	RefreshFailed      = "failed"
)

// Metrics implements catalog.Observer and records search, upstream and
// HTTP activity.
type Metrics struct {
	registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	entries         prometheus.Gauge
	age             prometheus.Gauge
	searchDuration  prometheus.Histogram
	upstream        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "refresh_total",
			Help:      "Catalog refreshes by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of successful catalog refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "entries",
			Help:      "Entries in the current catalog snapshot.",
		}),
		age: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "age_seconds",
			Help:      "Age of the catalog snapshot last served.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Time spent scanning the catalog for one query.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
		}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream provider requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.refreshes,
		m.refreshDuration,
		m.entries,
		m.age,
		m.searchDuration,
		m.upstream,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// --- catalog.Observer ---

func (m *Metrics) RefreshSucceeded(entries int, took time.Duration) {
	m.refreshes.WithLabelValues(RefreshOK).Inc()
	m.refreshDuration.Observe(took.Seconds())
	m.entries.Set(float64(entries))
}

func (m *Metrics) RefreshFailed(stale bool) {
	if stale {
		m.refreshes.WithLabelValues(RefreshFailedStale).Inc()
		return
	}
	m.refreshes.WithLabelValues(RefreshFailed).Inc()
}

func (m *Metrics) SnapshotServed(age time.Duration) {
	m.age.Set(age.Seconds())
}

// ObserveSearch records one catalog scan.
func (m *Metrics) ObserveSearch(d time.Duration) {
	m.searchDuration.Observe(d.Seconds())
}

// ObserveUpstream counts one provider request.
func (m *Metrics) ObserveUpstream(endpoint, outcome string) {
	m.upstream.WithLabelValues(endpoint, outcome).Inc()
}

// Middleware records request counts and latency labelled by chi route
// pattern, so /api/v1/tokens/{symbol} stays one series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
