// Package metrics provides a Prometheus metrics registry for the API service.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// heygpt_inflight_requests
	inFlight prometheus.Gauge

	// heygpt_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// heygpt_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// heygpt_key_pool_state{state} — credential count per health state
	keyPoolState *prometheus.GaugeVec

	// heygpt_key_acquire_total{result} — ok | exhausted
	keyAcquire *prometheus.CounterVec

	// heygpt_key_reports_total{outcome} — success | error
	keyReports *prometheus.CounterVec

	// heygpt_key_errors_total{kind}
	keyErrors *prometheus.CounterVec

	// cache_hits_total / cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// heygpt_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// heygpt_upstream_attempts_total{tool,outcome}
	upstreamAttempts *prometheus.CounterVec

	// heygpt_upstream_attempt_duration_seconds{tool,outcome}
	upstreamDuration *prometheus.HistogramVec

	// heygpt_tokens_total{tool,direction,cache}
	tokensTotal *prometheus.CounterVec

	// heygpt_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// heygpt_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heygpt_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_http_requests_total",
				Help: "Total HTTP requests handled",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heygpt_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + upstream)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		keyPoolState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "heygpt_key_pool_state",
				Help: "Number of upstream credentials per health state",
			},
			[]string{"state"},
		),

		keyAcquire: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_key_acquire_total",
				Help: "Credential selection attempts by result",
			},
			[]string{"result"},
		),

		keyReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_key_reports_total",
				Help: "Outcome reports recorded against credentials",
			},
			[]string{"outcome"},
		),

		keyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_key_errors_total",
				Help: "Upstream errors reported against credentials, by classified kind",
			},
			[]string{"kind"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_upstream_attempts_total",
				Help: "Upstream API attempts by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heygpt_upstream_attempt_duration_seconds",
				Help:    "Upstream API attempt duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"tool", "outcome"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_tokens_total",
				Help: "Token usage totals derived from upstream usage fields",
			},
			[]string{"tool", "direction", "cache"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heygpt_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "heygpt_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.keyPoolState,
		r.keyAcquire,
		r.keyReports,
		r.keyErrors,
		r.cacheHits,
		r.cacheMisses,
		r.cacheOps,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.tokensTotal,
		r.rateLimitTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one handled request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// SetKeyPoolState publishes the aggregate credential counts.
func (r *Registry) SetKeyPoolState(healthy, degraded, circuitOpen int) {
	r.keyPoolState.WithLabelValues("healthy").Set(float64(healthy))
	r.keyPoolState.WithLabelValues("degraded").Set(float64(degraded))
	r.keyPoolState.WithLabelValues("circuit_open").Set(float64(circuitOpen))
}

func (r *Registry) KeyAcquireOK()        { r.keyAcquire.WithLabelValues("ok").Inc() }
func (r *Registry) KeyAcquireExhausted() { r.keyAcquire.WithLabelValues("exhausted").Inc() }

func (r *Registry) KeyReportSuccess() { r.keyReports.WithLabelValues("success").Inc() }

func (r *Registry) KeyReportError(kind string) {
	r.keyReports.WithLabelValues("error").Inc()
	r.keyErrors.WithLabelValues(kind).Inc()
}

func (r *Registry) CacheGetHit() {
	r.cacheHits.Inc()
	r.cacheOps.WithLabelValues("get", "hit").Inc()
}

func (r *Registry) CacheGetMiss() {
	r.cacheMisses.Inc()
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheGetBypass() {
	r.cacheOps.WithLabelValues("get", "bypass").Inc()
}

func (r *Registry) CacheSetOK() {
	r.cacheOps.WithLabelValues("set", "ok").Inc()
}

// ObserveUpstreamAttempt records one upstream API attempt.
func (r *Registry) ObserveUpstreamAttempt(tool, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(tool, outcome).Inc()
	r.upstreamDuration.WithLabelValues(tool, outcome).Observe(dur.Seconds())
}

func (r *Registry) AddTokens(tool string, inputTokens, outputTokens int, cached bool) {
	cache := "miss"
	if cached {
		cache = "hit"
	}
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(tool, "input", cache).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(tool, "output", cache).Add(float64(outputTokens))
	}
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
