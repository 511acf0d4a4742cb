// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Backfill metrics
	FetchesTotal        *prometheus.CounterVec
	CandlesStored       *prometheus.CounterVec
	BackfillCompletions prometheus.Counter
	BackfillErrors      *prometheus.CounterVec

	// Swap parsing metrics
	SwapsExtracted      prometheus.Counter
	UnknownInstructions prometheus.Counter

	// Scheduler metrics
	SchedulerQueueDepth  *prometheus.GaugeVec
	RateLimitRetries     *prometheus.CounterVec
	RequestLatency       *prometheus.HistogramVec

	// Live watcher metrics
	CurveNotifications prometheus.Counter
	LiveCandlesFlushed prometheus.Counter

	// Health metrics
	LastSuccessfulFetch prometheus.Gauge
	TokensTracked       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_candle_lab"
	}

	return &Metrics{
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fetches_total",
			Help:      "Total OHLCV fetches by mode",
		}, []string{"mode"}),
		CandlesStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "candles_stored_total",
			Help:      "Total candle rows written by timeframe",
		}, []string{"timeframe"}),
		BackfillCompletions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "completions_total",
			Help:      "Total (pool, timeframe) units marked complete",
		}),
		BackfillErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "errors_total",
			Help:      "Total backfill errors by stage",
		}, []string{"stage"}),

		SwapsExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "extracted_total",
			Help:      "Total swaps recovered from transactions",
		}),
		UnknownInstructions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "unknown_instructions_total",
			Help:      "Target-program instructions skipped for unknown discriminator",
		}),

		SchedulerQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Calls waiting for a dispatch slot",
		}, []string{"profile"}),
		RateLimitRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "rate_limit_retries_total",
			Help:      "Retries triggered by explicit 429 responses",
		}, []string{"profile"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "request_latency_seconds",
			Help:      "External request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		CurveNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "curve_notifications_total",
			Help:      "Bonding-curve account notifications processed",
		}),
		LiveCandlesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "candles_flushed_total",
			Help:      "Realtime candle buckets flushed to storage",
		}),

		LastSuccessfulFetch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_fetch_timestamp",
			Help:      "Unix timestamp of the last successful OHLCV fetch",
		}),
		TokensTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "tokens_tracked",
			Help:      "Number of tokens currently in the backfill set",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetch increments the fetch counter for the given backfill mode.
func RecordFetch(mode string) {
	DefaultMetrics.FetchesTotal.WithLabelValues(mode).Inc()
}

// RecordCandlesStored adds stored candle rows for a timeframe.
func RecordCandlesStored(timeframe string, n int) {
	DefaultMetrics.CandlesStored.WithLabelValues(timeframe).Add(float64(n))
}

// RecordCompletion increments the backfill completion counter.
func RecordCompletion() {
	DefaultMetrics.BackfillCompletions.Inc()
}

// RecordBackfillError increments the backfill error counter for a stage.
func RecordBackfillError(stage string) {
	DefaultMetrics.BackfillErrors.WithLabelValues(stage).Inc()
}

// RecordSwapExtracted increments the extracted swap counter.
func RecordSwapExtracted() {
	DefaultMetrics.SwapsExtracted.Inc()
}

// RecordUnknownInstruction increments the unknown-discriminator counter.
func RecordUnknownInstruction() {
	DefaultMetrics.UnknownInstructions.Inc()
}

// UpdateQueueDepth sets the scheduler queue gauge for a profile.
func UpdateQueueDepth(profile string, depth int) {
	DefaultMetrics.SchedulerQueueDepth.WithLabelValues(profile).Set(float64(depth))
}

// RecordRequestLatency records one external request's latency.
func RecordRequestLatency(endpoint string, seconds float64) {
	DefaultMetrics.RequestLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordRateLimitRetry increments the 429 retry counter for a profile.
func RecordRateLimitRetry(profile string) {
	DefaultMetrics.RateLimitRetries.WithLabelValues(profile).Inc()
}
