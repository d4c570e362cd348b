package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds all Prometheus metric instruments for the bridge.
type Metrics struct {
	// Cross-frame channel metrics
	MessagesTotal     *prometheus.CounterVec
	MessageDropsTotal *prometheus.CounterVec
	RoundTripTimeouts *prometheus.CounterVec

	// Identity resolution metrics
	IdentityResolutionsTotal *prometheus.CounterVec
	SignOutResetsTotal       prometheus.Counter

	// Launcher/theme metrics
	ThemeAppliesTotal *prometheus.CounterVec

	// Widget lifecycle metrics
	WidgetOpensTotal  prometheus.Counter
	WidgetClosesTotal prometheus.Counter

	// Backend metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	BackendBreakerState    prometheus.Gauge

	// Session cache metrics
	SessionCacheHitsTotal   *prometheus.CounterVec
	SessionCacheMissesTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_messages_total",
			Help: "Total cross-frame messages dispatched.",
		}, []string{"direction", "type"}),
		MessageDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_message_drops_total",
			Help: "Total cross-frame messages dropped (unknown type, no handler, or decode failure).",
		}, []string{"direction", "reason"}),
		RoundTripTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_roundtrip_timeouts_total",
			Help: "Total host-mediated round-trips that timed out.",
		}, []string{"action"}),
		IdentityResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_identity_resolutions_total",
			Help: "Total identity resolution attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		SignOutResetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "favbridge_sign_out_resets_total",
			Help: "Total sign-out propagations (identity cleared, theme reset).",
		}),
		ThemeAppliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_theme_applies_total",
			Help: "Total launcher theme applications by variant.",
		}, []string{"variant"}),
		WidgetOpensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "favbridge_widget_opens_total",
			Help: "Total widget opens.",
		}),
		WidgetClosesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "favbridge_widget_closes_total",
			Help: "Total widget closes.",
		}),
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_backend_requests_total",
			Help: "Total loyalty backend requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "favbridge_backend_request_duration_seconds",
			Help:    "Loyalty backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"endpoint"}),
		BackendBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "favbridge_backend_breaker_state",
			Help: "Backend circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		SessionCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_session_cache_hits_total",
			Help: "Total session cache hits.",
		}, []string{"kind"}),
		SessionCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favbridge_session_cache_misses_total",
			Help: "Total session cache misses.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.MessageDropsTotal,
		m.RoundTripTimeouts,
		m.IdentityResolutionsTotal,
		m.SignOutResetsTotal,
		m.ThemeAppliesTotal,
		m.WidgetOpensTotal,
		m.WidgetClosesTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendBreakerState,
		m.SessionCacheHitsTotal,
		m.SessionCacheMissesTotal,
	)

	return m
}

// RecordMessage records a dispatched cross-frame message. Safe on nil.
func (m *Metrics) RecordMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordMessageDrop records a dropped cross-frame message. Safe on nil.
func (m *Metrics) RecordMessageDrop(direction, reason string) {
	if m == nil {
		return
	}
	m.MessageDropsTotal.WithLabelValues(direction, reason).Inc()
}

// RecordRoundTripTimeout records a timed-out round-trip. Safe on nil.
func (m *Metrics) RecordRoundTripTimeout(action string) {
	if m == nil {
		return
	}
	m.RoundTripTimeouts.WithLabelValues(action).Inc()
}

// RecordIdentityResolution records an identity resolution attempt. Safe on nil.
func (m *Metrics) RecordIdentityResolution(strategy, outcome string) {
	if m == nil {
		return
	}
	m.IdentityResolutionsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordSignOutReset records a sign-out propagation. Safe on nil.
func (m *Metrics) RecordSignOutReset() {
	if m == nil {
		return
	}
	m.SignOutResetsTotal.Inc()
}

// RecordThemeApply records a launcher theme application. Safe on nil.
func (m *Metrics) RecordThemeApply(variant string) {
	if m == nil {
		return
	}
	m.ThemeAppliesTotal.WithLabelValues(variant).Inc()
}

// RecordWidgetOpen records a widget open. Safe on nil.
func (m *Metrics) RecordWidgetOpen() {
	if m == nil {
		return
	}
	m.WidgetOpensTotal.Inc()
}

// RecordWidgetClose records a widget close. Safe on nil.
func (m *Metrics) RecordWidgetClose() {
	if m == nil {
		return
	}
	m.WidgetClosesTotal.Inc()
}

// RecordBackendRequest records a loyalty backend request. Safe on nil.
func (m *Metrics) RecordBackendRequest(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetBackendBreakerState sets the breaker gauge (0=closed, 1=open,
// 2=half-open). Safe on nil.
func (m *Metrics) SetBackendBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendBreakerState.Set(state)
}

// RecordSessionCacheHit records a session cache hit. Safe on nil.
func (m *Metrics) RecordSessionCacheHit(kind string) {
	if m == nil {
		return
	}
	m.SessionCacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordSessionCacheMiss records a session cache miss. Safe on nil.
func (m *Metrics) RecordSessionCacheMiss(kind string) {
	if m == nil {
		return
	}
	m.SessionCacheMissesTotal.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
