// ABOUTME: Prometheus collectors for navigations, module loads, permission checks and sessions
// ABOUTME: A nil *Metrics is a valid no-op recorder for every component

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bizhub"

// Metrics owns a private registry and the portal's collectors.
type Metrics struct {
	registry *prometheus.Registry

	navigations      *prometheus.CounterVec
	moduleLoads      *prometheus.CounterVec
	moduleLoadTime   prometheus.Histogram
	permissionChecks *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	instances        prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New builds the collectors. Nothing is registered until Register.
func New() *Metrics {
	return &Metrics{
		registry: prometheus.NewRegistry(),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Navigations resolved by the render pipeline, by outcome.",
		}, []string{"outcome"}),
		moduleLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_loads_total",
			Help:      "View module loads, by result.",
		}, []string{"result"}),
		moduleLoadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "module_load_duration_seconds",
			Help:      "Duration of view module loads.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Authoritative permission checks, by answer source.",
		}, []string{"source"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions, by target state.",
		}, []string{"to"}),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_instances",
			Help:      "Live application instances.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
	}
}

// Register adds every collector plus the Go and process collectors to the
// private registry.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, c := range []prometheus.Collector{
		m.navigations,
		m.moduleLoads,
		m.moduleLoadTime,
		m.permissionChecks,
		m.transitions,
		m.instances,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("registering collectors: %w", err)
	}
	return nil
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Navigation implements pipeline.Recorder.
func (m *Metrics) Navigation(outcome string) {
	if m == nil {
		return
	}
	m.navigations.WithLabelValues(outcome).Inc()
}

// ModuleLoad implements loader.Recorder.
func (m *Metrics) ModuleLoad(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.moduleLoads.WithLabelValues(result).Inc()
	m.moduleLoadTime.Observe(took.Seconds())
}

// PermissionCheck implements permission.Recorder.
func (m *Metrics) PermissionCheck(source string) {
	if m == nil {
		return
	}
	m.permissionChecks.WithLabelValues(source).Inc()
}

// SessionTransition counts a session moving to state to.
func (m *Metrics) SessionTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// InstanceAdded increments the live instance gauge.
func (m *Metrics) InstanceAdded() {
	if m == nil {
		return
	}
	m.instances.Inc()
}

// InstanceRemoved decrements the live instance gauge.
func (m *Metrics) InstanceRemoved() {
	if m == nil {
		return
	}
	m.instances.Dec()
}

// Instrument wraps next with request counting. routeOf maps a request to a
// low-cardinality route label.
func (m *Metrics) Instrument(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			route := routeOf(r)
			method := strings.ToUpper(r.Method)
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
