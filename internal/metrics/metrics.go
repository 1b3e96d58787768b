// Package metrics provides a Prometheus metrics registry for the fabric.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// pluto_probe_duration_seconds{service,check}
	probeDuration *prometheus.HistogramVec

	// pluto_service_up{service}
	serviceUp *prometheus.GaugeVec

	// pluto_snapshots_published_total / pluto_snapshot_publish_errors_total
	snapshotsPublished    prometheus.Counter
	snapshotPublishErrors prometheus.Counter

	// pluto_bus_messages_received_total{type}
	busReceived *prometheus.CounterVec

	// pluto_relayed_messages_total{topic}
	relayed *prometheus.CounterVec

	// pluto_optimal_path_latency_seconds{service}
	optimalLatency *prometheus.GaugeVec

	// pluto_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// pluto_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// pluto_inflight_requests
	inFlight prometheus.Gauge

	// pluto_upstream_attempts_total{upstream,outcome}
	upstreamAttempts *prometheus.CounterVec

	// pluto_upstream_attempt_duration_seconds{upstream,outcome}
	upstreamDuration *prometheus.HistogramVec

	// pluto_failover_events_total{service,from,to}
	failoverEvents *prometheus.CounterVec

	// pluto_failover_exhausted_total{service}
	failoverExhausted *prometheus.CounterVec

	// circuit_breaker_state{upstream} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// pluto_circuit_breaker_transitions_total{upstream,to_state}
	cbTransitions *prometheus.CounterVec

	// pluto_circuit_breaker_rejections_total{upstream,state}
	cbRejections *prometheus.CounterVec

	// pluto_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// pluto_build_info{version,role}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluto_probe_duration_seconds",
				Help:    "Health probe duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"service", "check"},
		),

		serviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluto_service_up",
				Help: "Last probe outcome per local service (1=up, 0=down)",
			},
			[]string{"service"},
		),

		snapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pluto_snapshots_published_total",
			Help: "Latency snapshots successfully broadcast on the bus",
		}),

		snapshotPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pluto_snapshot_publish_errors_total",
			Help: "Latency snapshot broadcasts that failed",
		}),

		busReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_bus_messages_received_total",
				Help: "Messages received from the bus by message type",
			},
			[]string{"type"},
		),

		relayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_relayed_messages_total",
				Help: "Messages relayed by orbit per outbound topic",
			},
			[]string{"topic"},
		),

		optimalLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluto_optimal_path_latency_seconds",
				Help: "Latency of the current optimal path per service",
			},
			[]string{"service"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_http_requests_total",
				Help: "HTTP requests handled by the proxy frontend",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluto_http_request_duration_seconds",
				Help:    "End-to-end proxy request duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"route"},
		),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pluto_inflight_requests",
			Help: "Current number of in-flight proxy requests",
		}),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_upstream_attempts_total",
				Help: "Upstream forward attempts (includes failovers)",
			},
			[]string{"upstream", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluto_upstream_attempt_duration_seconds",
				Help:    "Upstream forward attempt duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"upstream", "outcome"},
		),

		failoverEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_failover_events_total",
				Help: "Failover events between upstreams for a service",
			},
			[]string{"service", "from", "to"},
		),

		failoverExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_failover_exhausted_total",
				Help: "Requests that exhausted every upstream candidate",
			},
			[]string{"service"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"upstream"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"upstream", "to_state"},
		),

		cbRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_circuit_breaker_rejections_total",
				Help: "Requests rejected due to circuit breaker state",
			},
			[]string{"upstream", "state"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluto_build_info",
				Help: "Build information",
			},
			[]string{"version", "role"},
		),
	}

	reg.MustRegister(
		r.probeDuration,
		r.serviceUp,
		r.snapshotsPublished,
		r.snapshotPublishErrors,
		r.busReceived,
		r.relayed,
		r.optimalLatency,
		r.httpRequestsTotal,
		r.httpDuration,
		r.inFlight,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.failoverEvents,
		r.failoverExhausted,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cbRejections,
		r.rateLimitTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ObserveProbe records one probe outcome.
func (r *Registry) ObserveProbe(service, check string, up bool, dur time.Duration) {
	r.probeDuration.WithLabelValues(service, check).Observe(dur.Seconds())
	if up {
		r.serviceUp.WithLabelValues(service).Set(1)
		return
	}
	r.serviceUp.WithLabelValues(service).Set(0)
}

func (r *Registry) SnapshotPublished()    { r.snapshotsPublished.Inc() }
func (r *Registry) SnapshotPublishError() { r.snapshotPublishErrors.Inc() }

// RecordBusMessage counts one inbound bus message by type.
func (r *Registry) RecordBusMessage(msgType string) {
	r.busReceived.WithLabelValues(msgType).Inc()
}

// RecordRelay counts one message relayed by orbit.
func (r *Registry) RecordRelay(topic string) {
	r.relayed.WithLabelValues(topic).Inc()
}

// SetOptimalLatency exports the current optimal-path latency for a service.
func (r *Registry) SetOptimalLatency(service string, latency time.Duration) {
	r.optimalLatency.WithLabelValues(service).Set(latency.Seconds())
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end proxy request metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveUpstreamAttempt records one upstream forward attempt.
func (r *Registry) ObserveUpstreamAttempt(upstream, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(upstream, outcome).Inc()
	r.upstreamDuration.WithLabelValues(upstream, outcome).Observe(dur.Seconds())
}

func (r *Registry) RecordFailover(service, from, to string) {
	r.failoverEvents.WithLabelValues(service, from, to).Inc()
}

func (r *Registry) RecordFailoverExhausted(service string) {
	r.failoverExhausted.WithLabelValues(service).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(upstream string, state int64) {
	r.circuitBreakerState.WithLabelValues(upstream).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[upstream]
	if !ok || prev != float64(state) {
		r.lastCBState[upstream] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(upstream, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCircuitBreakerRejection(upstream, state string) {
	r.cbRejections.WithLabelValues(upstream, state).Inc()
}

func (r *Registry) SetBuildInfo(version, role string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version, role).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
