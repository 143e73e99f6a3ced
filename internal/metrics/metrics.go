package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine metrics
	TicksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatcher_ticks_processed_total",
			Help: "Total number of price ticks processed",
		},
		[]string{"asset"},
	)

	TicksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatcher_ticks_rejected_total",
			Help: "Total number of ticks rejected as out of order",
		},
		[]string{"asset"},
	)

	AlertsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goldwatcher_alerts_evaluated_total",
			Help: "Total number of alert evaluations performed",
		},
	)

	TriggersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatcher_triggers_fired_total",
			Help: "Total number of trigger events emitted",
		},
		[]string{"rule_type"},
	)

	NormalizationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatcher_normalization_failures_total",
			Help: "Total number of currency normalization failures",
		},
		[]string{"reason"}, // reason: stale_rate, no_rate, other
	)

	EvaluationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goldwatcher_evaluation_failures_total",
			Help: "Total number of alerts skipped due to evaluation errors",
		},
	)

	EmissionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goldwatcher_emission_retries_total",
			Help: "Total number of trigger emission retries",
		},
	)

	EmissionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goldwatcher_emission_failures_total",
			Help: "Total number of trigger emissions abandoned after retries",
		},
	)

	ActiveLanes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldwatcher_active_lanes",
			Help: "Number of per-asset evaluation lanes currently running",
		},
	)

	// Rate table metrics
	RateSnapshotVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldwatcher_rate_snapshot_version",
			Help: "Version of the currently published rate snapshot",
		},
	)

	RateFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goldwatcher_rate_fetch_failures_total",
			Help: "Total number of failed rate provider fetches",
		},
	)
)
