// Package metrics provides a Prometheus metrics registry for the
// orchestrator.
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

	// orchestrator_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// orchestrator_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// orchestrator_generations_total{provider,cache,outcome}
	generationsTotal *prometheus.CounterVec

	// orchestrator_generation_duration_seconds{provider,cache}
	generationDuration *prometheus.HistogramVec

	// orchestrator_tokens_total{provider,direction,cache}
	tokensTotal *prometheus.CounterVec

	// orchestrator_cost_usd_total{provider}
	costTotal *prometheus.CounterVec

	// orchestrator_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// orchestrator_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// orchestrator_fallback_events_total{from,to}
	fallbackEvents *prometheus.CounterVec

	// orchestrator_fallback_exhausted_total{primary}
	fallbackExhausted *prometheus.CounterVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total number of HTTP requests handled by the orchestrator",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + provider)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		generationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_generations_total",
				Help: "Total generation requests by provider, cache status, and outcome",
			},
			[]string{"provider", "cache", "outcome"},
		),

		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_generation_duration_seconds",
				Help:    "Generation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "cache"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tokens_total",
				Help: "Token usage totals derived from provider usage fields",
			},
			[]string{"provider", "direction", "cache"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_cost_usd_total",
				Help: "Accumulated generation cost in USD",
			},
			[]string{"provider"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		fallbackEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_fallback_events_total",
				Help: "Fallback transitions between providers",
			},
			[]string{"from", "to"},
		),

		fallbackExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_fallback_exhausted_total",
				Help: "Requests that exhausted every provider in the chain",
			},
			[]string{"primary"},
		),
	}

	reg.MustRegister(
		r.httpRequestsTotal,
		r.httpDuration,
		r.generationsTotal,
		r.generationDuration,
		r.tokensTotal,
		r.costTotal,
		r.cacheOps,
		r.rateLimitTotal,
		r.fallbackEvents,
		r.fallbackExhausted,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveGeneration records one finished generation attempt.
func (r *Registry) ObserveGeneration(provider string, cached, success bool, dur time.Duration) {
	cache := cacheLabel(cached)
	outcome := "success"
	if !success {
		outcome = "error"
	}
	r.generationsTotal.WithLabelValues(provider, cache, outcome).Inc()
	r.generationDuration.WithLabelValues(provider, cache).Observe(dur.Seconds())
}

func (r *Registry) AddTokens(provider string, promptTokens, completionTokens int, cached bool) {
	cache := cacheLabel(cached)
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "input", cache).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "output", cache).Add(float64(completionTokens))
	}
}

func (r *Registry) AddCost(provider string, costUSD float64) {
	if costUSD > 0 {
		r.costTotal.WithLabelValues(provider).Add(costUSD)
	}
}

func (r *Registry) CacheGetHit()  { r.cacheOps.WithLabelValues("get", "hit").Inc() }
func (r *Registry) CacheGetMiss() { r.cacheOps.WithLabelValues("get", "miss").Inc() }
func (r *Registry) CacheSetOK()   { r.cacheOps.WithLabelValues("set", "ok").Inc() }
func (r *Registry) CacheSetError() {
	r.cacheOps.WithLabelValues("set", "error").Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) RecordFallback(from, to string) {
	r.fallbackEvents.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordFallbackExhausted(primary string) {
	r.fallbackExhausted.WithLabelValues(primary).Inc()
}

// Handler returns the fasthttp handler serving the /metrics endpoint.
func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func cacheLabel(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}
