// Package metrics provides Prometheus metrics for session and route-guard operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil or disabled *Metrics is a no-op.
type Metrics struct {
	enabled  bool
	gatherer prometheus.Gatherer

	// Guard metrics
	guardDecisionsTotal     *prometheus.CounterVec
	guardValidationDuration prometheus.Histogram
	navigationsSuperseded   prometheus.Counter

	// Session metrics
	identityResolutionsTotal *prometheus.CounterVec
	loginsTotal              *prometheus.CounterVec
	logoutsTotal             prometheus.Counter
}

// New creates and registers metrics on the default registry.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates metrics registered on reg and exposed from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{enabled: true, gatherer: gatherer}

	m.guardDecisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "jobboard_guard_decisions_total",
		Help: "Route guard decisions by terminal state",
	}, []string{"state"})

	m.guardValidationDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobboard_guard_validation_duration_seconds",
		Help:    "Credential validation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.navigationsSuperseded = f.NewCounter(prometheus.CounterOpts{
		Name: "jobboard_navigations_superseded_total",
		Help: "Navigations whose guard result was discarded because a newer navigation started",
	})

	m.identityResolutionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "jobboard_identity_resolutions_total",
		Help: "Identity resolutions by result (resolved, anonymous, failed)",
	}, []string{"result"})

	m.loginsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "jobboard_logins_total",
		Help: "Login-style flows by method and result",
	}, []string{"method", "result"})

	m.logoutsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "jobboard_logouts_total",
		Help: "Client-side logouts",
	})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordDecision records a terminal guard state and how long validation took.
func (m *Metrics) RecordDecision(state string, validationSeconds float64) {
	if !m.on() {
		return
	}
	m.guardDecisionsTotal.WithLabelValues(state).Inc()
	if validationSeconds > 0 {
		m.guardValidationDuration.Observe(validationSeconds)
	}
}

// RecordSuperseded records a discarded navigation result.
func (m *Metrics) RecordSuperseded() {
	if !m.on() {
		return
	}
	m.navigationsSuperseded.Inc()
}

// RecordIdentityResolution records the outcome of resolving the current identity.
func (m *Metrics) RecordIdentityResolution(result string) {
	if !m.on() {
		return
	}
	m.identityResolutionsTotal.WithLabelValues(result).Inc()
}

// RecordLogin records a login, verification or social callback attempt.
func (m *Metrics) RecordLogin(method, result string) {
	if !m.on() {
		return
	}
	m.loginsTotal.WithLabelValues(method, result).Inc()
}

// RecordLogout records a client-side logout.
func (m *Metrics) RecordLogout() {
	if !m.on() {
		return
	}
	m.logoutsTotal.Inc()
}

// Handler exposes the registry for scraping. Disabled metrics serve 404.
func (m *Metrics) Handler() http.Handler {
	if !m.on() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
