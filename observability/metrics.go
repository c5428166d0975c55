package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const apiSubsystem = "api"

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics
)

func apiCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recycler",
		Subsystem: apiSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// API returns the process-wide HTTP metrics, registering them on first use.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		m := &apiMetrics{
			requests:  apiCounter("requests_total", "HTTP requests by route and outcome.", "route", "method", "outcome"),
			errors:    apiCounter("errors_total", "HTTP error responses by route and status.", "route", "method", "status"),
			throttles: apiCounter("throttles_total", "Requests rejected by the rate limiter.", "route", "reason"),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "recycler",
				Subsystem: apiSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Handler latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "recycler",
				Subsystem: apiSubsystem,
				Name:      "event_streams",
				Help:      "Open websocket event streams.",
			}),
		}
		prometheus.MustRegister(m.requests, m.errors, m.latency, m.throttles, m.streams)
		apiRegistry = m
	})
	return apiRegistry
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Observe records one finished request with the status actually written.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route, method = orUnknown(route), orUnknown(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(orUnknown(route), orUnknown(reason)).Inc()
}

// StreamOpened tracks a websocket subscriber; the returned func marks it closed.
func (m *apiMetrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.streams.Inc()
	var once sync.Once
	return func() { once.Do(m.streams.Dec) }
}
