package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scriptmonkey"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Script metrics
	ScriptsInstalled prometheus.Gauge
	Lifecycle        *prometheus.CounterVec
	Injections       *prometheus.CounterVec
	APICalls         *prometheus.CounterVec
	AccessViolations *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
}

// NewMetrics creates a collector backed by a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := factory{reg}

	m := &Metrics{
		registry: reg,

		RequestsTotal: f.counterVec("http_requests_total",
			"Total number of HTTP requests", "method", "path", "status"),
		RequestDuration: f.histogramVec("http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			"method", "path"),

		ScriptsInstalled: f.gauge("scripts_installed", "Number of installed userscripts"),
		Lifecycle: f.counterVec("script_lifecycle_total",
			"Registry lifecycle events", "event"),
		Injections: f.counterVec("injections_total",
			"Script injections into pages", "outcome"),
		APICalls: f.counterVec("api_calls_total",
			"Privileged API calls made by injected scripts", "api", "outcome"),
		AccessViolations: f.counterVec("access_violations_total",
			"Privileged calls rejected by the provenance check", "api"),
		FetchDuration: f.histogramVec("dependency_fetch_seconds",
			"Duration of script and dependency downloads",
			[]float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			"kind", "outcome"),

		WSConnections: f.gauge("ws_connections", "Number of active WebSocket connections"),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetScriptsInstalled sets the installed-scripts gauge.
func (m *Metrics) SetScriptsInstalled(count int) {
	if m == nil {
		return
	}
	m.ScriptsInstalled.Set(float64(count))
}

// RecordLifecycle counts a registry event (install, uninstall, move, edit).
func (m *Metrics) RecordLifecycle(event string) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues(event).Inc()
}

// RecordInjection counts one script injection by outcome.
func (m *Metrics) RecordInjection(outcome string) {
	if m == nil {
		return
	}
	m.Injections.WithLabelValues(outcome).Inc()
}

// RecordAPICall counts a privileged call.
func (m *Metrics) RecordAPICall(api, outcome string) {
	if m == nil {
		return
	}
	m.APICalls.WithLabelValues(api, outcome).Inc()
}

// RecordAccessViolation counts a rejected privileged call.
func (m *Metrics) RecordAccessViolation(api string) {
	if m == nil {
		return
	}
	m.AccessViolations.WithLabelValues(api).Inc()
}

// RecordFetch observes a download.
func (m *Metrics) RecordFetch(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

type factory struct {
	reg prometheus.Registerer
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: name, Help: help, Buckets: buckets,
	}, labels)
	f.reg.MustRegister(h)
	return h
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}
