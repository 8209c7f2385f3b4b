package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rmsavail"

// Gateway outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeRateLimited  = "rate_limited"
	OutcomeUpstream     = "upstream_error"
	OutcomeTransport    = "transport_error"
	OutcomeCanceled     = "canceled"
	OutcomeUnconfigured = "not_configured"
)

// Metrics holds the collectors for the gateway, cache and router. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatewayRequests *prometheus.CounterVec
	gatewayRetries  prometheus.Counter
	gatewayQueue    prometheus.Gauge
	gatewayInFlight prometheus.Gauge

	cacheLookups   *prometheus.CounterVec
	cacheBuilds    *prometheus.CounterVec
	cacheBuildTime *prometheus.HistogramVec
	cacheSkipped   *prometheus.CounterVec

	routerRequests *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Remote API requests by final outcome.",
		}, []string{"outcome"}),
		gatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "throttle_retries_total",
			Help:      "Retries issued after a 429 response.",
		}),
		gatewayQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "queue_depth",
			Help:      "Requests waiting for dispatch.",
		}),
		gatewayInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "in_flight",
			Help:      "Requests currently dispatched.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Commitment lookups by result (hit, miss, shared).",
		}, []string{"result"}),
		cacheBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "builds_total",
			Help:      "Commitment build phases by phase and outcome.",
		}, []string{"phase", "outcome"}),
		cacheBuildTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      "Duration of commitment build phases.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"phase"}),
		cacheSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "skipped_jobs_total",
			Help:      "Jobs whose detail fetch failed and were left out of a build.",
		}, []string{"phase"}),
		routerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Capability requests by capability and result code.",
		}, []string{"capability", "code"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.gatewayRequests, m.gatewayRetries, m.gatewayQueue, m.gatewayInFlight,
			m.cacheLookups, m.cacheBuilds, m.cacheBuildTime, m.cacheSkipped,
			m.routerRequests,
		)
	}
	return m
}

func (m *Metrics) GatewayRequest(outcome string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayRetry() {
	if m == nil {
		return
	}
	m.gatewayRetries.Inc()
}

func (m *Metrics) GatewayLoad(queued, inFlight int) {
	if m == nil {
		return
	}
	m.gatewayQueue.Set(float64(queued))
	m.gatewayInFlight.Set(float64(inFlight))
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheBuild(phase, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cacheBuilds.WithLabelValues(phase, outcome).Inc()
	m.cacheBuildTime.WithLabelValues(phase).Observe(took.Seconds())
}

func (m *Metrics) CacheSkippedJob(phase string) {
	if m == nil {
		return
	}
	m.cacheSkipped.WithLabelValues(phase).Inc()
}

func (m *Metrics) RouterRequest(capability, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.routerRequests.WithLabelValues(capability, code).Inc()
}
