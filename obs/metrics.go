package obs

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// HTTP METRICS
// =============================================================================

// HTTPMetrics groups Prometheus collectors for HTTP observability.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers and returns HTTP metrics collectors.
func NewHTTPMetrics(namespace string, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	m.ReqTotal = register(reg, m.ReqTotal)
	m.ReqDur = register(reg, m.ReqDur)
	m.InFlight = register(reg, m.InFlight)
	return m
}

// Middleware instruments request/response lifecycle with counters and histograms.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		m.InFlight.Inc()
		start := time.Now()
		next.ServeHTTP(recorder, r)
		m.InFlight.Dec()

		route := routePattern(r)
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(recorder.Status())
		m.ReqTotal.WithLabelValues(r.Method, route, status).Inc()
		m.ReqDur.WithLabelValues(r.Method, route).Observe(DurationMillis(time.Since(start)))
	})
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// =============================================================================
// DOMAIN METRICS
// =============================================================================

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// DomainMetrics counts settlement activity. A nil *DomainMetrics is valid and
// records nothing.
type DomainMetrics struct {
	Computations    *prometheus.CounterVec
	Comparisons     *prometheus.CounterVec
	IntegrityChecks *prometheus.CounterVec
	RecordsPurged   prometheus.Counter
	ReportItems     *prometheus.CounterVec
}

// NewDomainMetrics registers and returns the domain collectors.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &DomainMetrics{
		Computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "Settlement computations by method and outcome.",
		}, []string{"method", "outcome"}),
		Comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Method A/B comparisons by outcome.",
		}, []string{"outcome"}),
		IntegrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_checks_total",
			Help:      "Stored record verifications by outcome (match, mismatch, invalid_input).",
		}, []string{"outcome"}),
		RecordsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_purged_total",
			Help:      "Soft-deleted records removed by the retention job.",
		}),
		ReportItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_items_total",
			Help:      "Records regenerated for reports by outcome.",
		}, []string{"outcome"}),
	}
	m.Computations = register(reg, m.Computations)
	m.Comparisons = register(reg, m.Comparisons)
	m.IntegrityChecks = register(reg, m.IntegrityChecks)
	m.RecordsPurged = register(reg, m.RecordsPurged)
	m.ReportItems = register(reg, m.ReportItems)
	return m
}

func (m *DomainMetrics) ObserveCompute(method, outcome string) {
	if m == nil {
		return
	}
	m.Computations.WithLabelValues(method, outcome).Inc()
}

func (m *DomainMetrics) ObserveCompare(outcome string) {
	if m == nil {
		return
	}
	m.Comparisons.WithLabelValues(outcome).Inc()
}

func (m *DomainMetrics) ObserveIntegrity(outcome string) {
	if m == nil {
		return
	}
	m.IntegrityChecks.WithLabelValues(outcome).Inc()
}

func (m *DomainMetrics) ObservePurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsPurged.Add(float64(n))
}

func (m *DomainMetrics) ObserveReport(ok, failed int) {
	if m == nil {
		return
	}
	m.ReportItems.WithLabelValues(OutcomeOK).Add(float64(ok))
	m.ReportItems.WithLabelValues(OutcomeInvalid).Add(float64(failed))
}

// register adds c to reg, reusing an already registered collector of the
// same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
	return c
}
