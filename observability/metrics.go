package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"escrowledger/native/escrow"
)

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Gateway returns the lazily-initialised registry used to record HTTP
// activity on escrowd.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *gatewayMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// EscrowMetrics tracks engine operations and custody health.
type EscrowMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	custody    *prometheus.GaugeVec
	locked     *prometheus.GaugeVec
	owed       *prometheus.GaugeVec
	solvent    *prometheus.GaugeVec
}

// Escrow exposes the metrics registry for the escrow engine. It satisfies
// escrow.OperationObserver.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine calls segmented by operation and result code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine calls.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			}, []string{"operation"}),
			custody: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "custody",
				Help:      "Funds held by the custody account per asset.",
			}, []string{"asset"}),
			locked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "locked",
				Help:      "Funds locked in active jobs and stakes per asset.",
			}, []string{"asset"}),
			owed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "owed",
				Help:      "Withdrawable balances and refunds not yet pulled per asset.",
			}, []string{"asset"}),
			solvent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "solvent",
				Help:      "1 when custody equals locked plus owed for the asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.latency,
			escrowRegistry.custody,
			escrowRegistry.locked,
			escrowRegistry.owed,
			escrowRegistry.solvent,
		)
	})
	return escrowRegistry
}

// ObserveOperation records one engine call.
func (m *EscrowMetrics) ObserveOperation(op, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordSolvency publishes a custody snapshot.
func (m *EscrowMetrics) RecordSolvency(s escrow.Solvency) {
	if m == nil {
		return
	}
	asset := strings.TrimSpace(strings.ToUpper(s.Asset))
	if asset == "" {
		asset = "UNKNOWN"
	}
	m.custody.WithLabelValues(asset).Set(toFloat(s.Custody))
	m.locked.WithLabelValues(asset).Set(toFloat(s.Locked))
	m.owed.WithLabelValues(asset).Set(toFloat(s.Owed))
	solvent := 0.0
	if s.Holds() {
		solvent = 1
	}
	m.solvent.WithLabelValues(asset).Set(solvent)
}

func toFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
