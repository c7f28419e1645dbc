package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// BountyMetrics tracks ledger operations and the escrow they hold. Counters
// are published both to the prometheus registry scraped on /metrics and to
// the global OpenTelemetry meter, which exports over OTLP when enabled.
type BountyMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	settlements *prometheus.CounterVec
	escrow      prometheus.Gauge
	live        prometheus.Gauge

	otelOperations  metric.Int64Counter
	otelLatency     metric.Float64Histogram
	otelSettlements metric.Int64Counter
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	bountyMetricsOnce sync.Once
	bountyRegistry    *BountyMetrics
)

// HTTP returns the lazily-initialised registry used to record API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkbounty",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkbounty",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkbounty",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Bounty returns the singleton metrics registry for ledger operations.
func Bounty() *BountyMetrics {
	bountyMetricsOnce.Do(func() {
		bountyRegistry = &BountyMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkbounty",
				Subsystem: "bounty",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkbounty",
				Subsystem: "bounty",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkbounty",
				Subsystem: "bounty",
				Name:      "settlements_total",
				Help:      "Count of escrow releases segmented by kind (approved, withdrawn).",
			}, []string{"kind"}),
			escrow: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkbounty",
				Subsystem: "bounty",
				Name:      "escrow_locked",
				Help:      "Total value held by the escrow vault in base units.",
			}),
			live: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkbounty",
				Subsystem: "bounty",
				Name:      "live_bounties",
				Help:      "Number of enumerable bounties.",
			}),
		}
		meter := otel.Meter("zkbounty/bounty")
		if counter, err := meter.Int64Counter("zkbounty.bounty.operations",
			metric.WithDescription("Ledger operations by operation and outcome.")); err == nil {
			bountyRegistry.otelOperations = counter
		}
		if hist, err := meter.Float64Histogram("zkbounty.bounty.operation.duration",
			metric.WithDescription("Ledger operation latency including commit."),
			metric.WithUnit("s")); err == nil {
			bountyRegistry.otelLatency = hist
		}
		if counter, err := meter.Int64Counter("zkbounty.bounty.settlements",
			metric.WithDescription("Escrow releases by kind.")); err == nil {
			bountyRegistry.otelSettlements = counter
		}
		prometheus.MustRegister(
			bountyRegistry.operations,
			bountyRegistry.latency,
			bountyRegistry.settlements,
			bountyRegistry.escrow,
			bountyRegistry.live,
		)
	})
	return bountyRegistry
}

// Observe records the execution of a ledger operation. The outcome label is
// "success" or the stable error code of the failure.
func (m *BountyMetrics) Observe(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if code = strings.TrimSpace(code); code != "" {
		outcome = code
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())

	ctx := context.Background()
	if m.otelOperations != nil {
		m.otelOperations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
	if m.otelLatency != nil {
		m.otelLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
	}
}

// RecordSettlement counts an escrow release.
func (m *BountyMetrics) RecordSettlement(kind string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(kind).Inc()
	if m.otelSettlements != nil {
		m.otelSettlements.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// SetEscrow publishes the vault balance.
func (m *BountyMetrics) SetEscrow(locked *uint256.Int) {
	if m == nil {
		return
	}
	if locked == nil {
		m.escrow.Set(0)
		return
	}
	m.escrow.Set(locked.Float64())
}

// SetLive publishes the number of enumerable bounties.
func (m *BountyMetrics) SetLive(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}
