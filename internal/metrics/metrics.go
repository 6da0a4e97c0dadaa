// Package metrics owns the Prometheus registry served on the admin port.
// Labels are limited to bounded values (method, route pattern, status,
// decoder kind, file class) so request paths never become series.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/basicweb/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	errTotal  *prometheus.CounterVec

	panicTotal      prometheus.Counter
	failureTotal    prometheus.Counter
	bodyParseTotal  *prometheus.CounterVec
	staticHitsTotal *prometheus.CounterVec

	rateLimitDenied   prometheus.Counter
	rateLimitCapacity prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns metrics on a fresh registry that also carries the Go and
// process collectors.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(64, 4, 9),
		}, []string{"method", "route"}),
		errTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total panics recovered by the error handler",
		}),
		failureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_failures_total",
			Help: "Total requests answered by the error handler",
		}),
		bodyParseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "body_parse_total",
			Help: "Body parser decisions by decoder kind and outcome",
		}, []string{"kind", "outcome"}),
		staticHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "static_hits_total",
			Help: "Requests answered from the public directory by file class",
		}, []string{"class"}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		rateLimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total times the rate limiter ran out of client slots",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or off (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errTotal,
		m.panicTotal,
		m.failureTotal,
		m.bodyParseTotal,
		m.staticHitsTotal,
		m.rateLimitDenied,
		m.rateLimitCapacity,
		m.buildInfo,
		m.profilingActive,
	)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) IncHttpPanic() { m.panicTotal.Inc() }

func (m *ServerMetrics) IncPipelineFailure() { m.failureTotal.Inc() }

func (m *ServerMetrics) ObserveBodyParse(kind, outcome string) {
	m.bodyParseTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *ServerMetrics) IncStaticHit(class string) {
	m.staticHitsTotal.WithLabelValues(class).Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() { m.rateLimitDenied.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.rateLimitCapacity.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
		return
	}
	m.profilingActive.Set(0)
}

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}
