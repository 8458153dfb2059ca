package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// API returns the lazily-initialised metrics registry used to record HTTP API
// activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "buyback",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "buyback",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "buyback",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "buyback",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// EngineMetrics captures metrics for settlement engine operations.
type EngineMetrics struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	demand       prometheus.Gauge
	pauseEngaged prometheus.Gauge
}

// Engine returns the singleton metrics registry for settlement operations.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "buyback",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of settlement engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "buyback",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for settlement engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "buyback",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of settlement failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			demand: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "buyback",
				Subsystem: "engine",
				Name:      "demand_needed",
				Help:      "Most recently observed demand estimate in payment base units.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "buyback",
				Subsystem: "engine",
				Name:      "pause_engaged",
				Help:      "Indicates whether settlement is paused (1) or active (0).",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.requests,
			engineRegistry.latency,
			engineRegistry.errors,
			engineRegistry.demand,
			engineRegistry.pauseEngaged,
		)
	})
	return engineRegistry
}

// Observe records the execution metrics for a settlement operation.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDemand updates the demand gauge with the latest estimate.
func (m *EngineMetrics) RecordDemand(demand *big.Int) {
	if m == nil {
		return
	}
	m.demand.Set(bigToFloat(demand))
}

// SetPause toggles the pause_engaged gauge.
func (m *EngineMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

// OracleMetrics bundles collectors tracking price feed health.
type OracleMetrics struct {
	median       *prometheus.GaugeVec
	freshness    *prometheus.GaugeVec
	sourceErrors *prometheus.CounterVec
}

// Oracle returns the metrics registry for the price feed manager.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			median: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "buyback",
				Subsystem: "oracle",
				Name:      "median_rate",
				Help:      "Latest aggregated median rate per trading pair.",
			}, []string{"pair"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "buyback",
				Subsystem: "oracle",
				Name:      "snapshot_age_seconds",
				Help:      "Age in seconds of the latest persisted price snapshot.",
			}, []string{"pair"}),
			sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "buyback",
				Subsystem: "oracle",
				Name:      "source_errors_total",
				Help:      "Count of upstream price source failures segmented by source.",
			}, []string{"source"}),
		}
		prometheus.MustRegister(oracleRegistry.median, oracleRegistry.freshness, oracleRegistry.sourceErrors)
	})
	return oracleRegistry
}

// RecordMedian publishes the aggregated median rate for a pair.
func (m *OracleMetrics) RecordMedian(pair string, rate float64) {
	if m == nil {
		return
	}
	m.median.WithLabelValues(labelPair(pair)).Set(rate)
}

// RecordFreshness records how old the latest snapshot is.
func (m *OracleMetrics) RecordFreshness(pair string, age time.Duration) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(labelPair(pair)).Set(age.Seconds())
}

// RecordSourceError increments the failure counter for an upstream source.
func (m *OracleMetrics) RecordSourceError(source string) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	m.sourceErrors.WithLabelValues(source).Inc()
}

func labelPair(pair string) string {
	trimmed := strings.TrimSpace(pair)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
