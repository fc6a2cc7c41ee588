package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all controlx metrics.
type Registry struct {
	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// HTTP metrics
	APIRequests  *prometheus.CounterVec
	APILatency   *prometheus.HistogramVec
	AuthFailures prometheus.Counter

	reg *prometheus.Registry
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	factory := promauto.With(r.reg)

	r.DispatchTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlx",
		Name:      "dispatch_total",
		Help:      "Endpoint dispatches by outcome",
	}, []string{"kind"})
	r.DispatchDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "controlx",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent rendering and running endpoint commands",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
	}, []string{"kind"})

	r.APIRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlx",
		Name:      "api_requests_total",
		Help:      "HTTP requests by method and status code",
	}, []string{"method", "code"})
	r.APILatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "controlx",
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	r.AuthFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "controlx",
		Name:      "auth_failures_total",
		Help:      "Rejected Basic authentication attempts",
	})

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveDispatch records one dispatch outcome.
func (r *Registry) ObserveDispatch(kind string, d time.Duration) {
	r.DispatchTotal.WithLabelValues(kind).Inc()
	r.DispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request.
func (r *Registry) ObserveRequest(method string, code int, d time.Duration) {
	r.APIRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.APILatency.WithLabelValues(method).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
