// Package metrics exposes prometheus instrumentation for the request pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teampulse_requests_total",
		Help: "Chat requests by outcome (answered, rejected, fallback, gave_up, error).",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "teampulse_request_duration_seconds",
		Help:    "End-to-end chat request latency.",
		Buckets: prometheus.DefBuckets,
	})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teampulse_operations_total",
		Help: "Dispatched operations by tool and outcome (ok, validation_error, timeout, error).",
	}, []string{"tool", "outcome"})

	parseFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teampulse_parse_failures_total",
		Help: "Intent parses that failed after the corrective retry.",
	})

	parseRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teampulse_parse_retries_total",
		Help: "Corrective re-prompts issued by the intent parser.",
	})

	fallbackStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teampulse_fallback_steps_total",
		Help: "Reason-act steps taken by the fallback agent.",
	})

	inferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "teampulse_inference_duration_seconds",
		Help:    "Language inference call latency by role (parse, fallback, compose).",
		Buckets: prometheus.DefBuckets,
	}, []string{"role"})
)

func RecordRequest(outcome string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.Observe(elapsed.Seconds())
}

func RecordOperation(tool, outcome string) {
	operationsTotal.WithLabelValues(tool, outcome).Inc()
}

func RecordParseFailure() {
	parseFailuresTotal.Inc()
}

func RecordParseRetry() {
	parseRetriesTotal.Inc()
}

func RecordFallbackStep() {
	fallbackStepsTotal.Inc()
}

func RecordInference(role string, elapsed time.Duration) {
	inferenceDuration.WithLabelValues(role).Observe(elapsed.Seconds())
}
