package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"synthvault/native/vault"
)

// VaultMetrics records engine operation outcomes. It satisfies vault.Observer
// and vault.EventSink.
type VaultMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	rejections   *prometheus.CounterVec
	liquidations prometheus.Counter
	priceUpdates *prometheus.CounterVec
	events       *prometheus.CounterVec
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Vault returns the lazily-initialised engine metrics.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault engine operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "rejections_total",
				Help:      "Vault operations rejected by a business rule, segmented by error kind.",
			}, []string{"op", "reason"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "liquidations_total",
				Help:      "Positions liquidated.",
			}),
			priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "price_updates_total",
				Help:      "Oracle price updates applied per collateral asset.",
			}, []string{"asset"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "events_total",
				Help:      "Vault events emitted segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.rejections,
			vaultRegistry.liquidations,
			vaultRegistry.priceUpdates,
			vaultRegistry.events,
		)
	})
	return vaultRegistry
}

// Outcome classifies an engine error: success, rejected for business-rule
// failures and error for ledger, storage or unexpected failures.
func Outcome(err error) string {
	switch vault.ErrorKind(err) {
	case "":
		return "success"
	case "internal", "LedgerFailure", "MathOverflow":
		return "error"
	default:
		return "rejected"
	}
}

// Observe implements vault.Observer.
func (m *VaultMetrics) Observe(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := Outcome(err)
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if outcome == "rejected" {
		m.rejections.WithLabelValues(op, vault.ErrorKind(err)).Inc()
	}
}

// Emit implements vault.EventSink.
func (m *VaultMetrics) Emit(ev vault.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Type).Inc()
	switch ev.Type {
	case vault.TypeLiquidated:
		m.liquidations.Inc()
	case vault.TypePriceUpdated:
		asset := strings.ToLower(strings.TrimSpace(ev.Attributes["asset"]))
		if asset == "" {
			asset = "unknown"
		}
		m.priceUpdates.WithLabelValues(asset).Inc()
	}
}

// HTTP returns the metrics recorded by the daemon's HTTP layer.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "synthvault",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the HTTP rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a finished HTTP request.
func (m *httpMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rate-limited request.
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
