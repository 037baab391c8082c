// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package metrics provides Prometheus instrumentation for the decision
// engine: pipeline latency and outcomes, numeric-stability incidents,
// persistence queue health, worker pool utilisation, and transport metrics.
//
// Collectors are package-level and registered via promauto at import time;
// the /metrics endpoint exposes the default registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decision Pipeline Metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_decisions_total",
			Help: "Total number of decisions emitted",
		},
		[]string{"source", "phase"}, // source: coldstart, ensemble, fallback
	)

	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amas_decision_duration_seconds",
			Help:    "End-to-end duration of one event through the pipeline",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"source"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amas_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"stage"}, // perception, modeling, selection, guardrails, reward, update
	)

	GuardrailOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_guardrail_overrides_total",
			Help: "Total number of guardrail overrides applied to picked actions",
		},
		[]string{"rule"}, // high_fatigue, critical_fatigue, low_motivation, critical_motivation, min_attention, trend_down, trend_stuck
	)

	RewardComputed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amas_reward",
			Help:    "Distribution of computed rewards",
			Buckets: []float64{-1, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 1},
		},
	)

	EventDeadlineExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_event_deadline_exceeded_total",
			Help: "Total number of events that ran past their deadline mid-pipeline",
		},
	)

	// Learning / Numerics Metrics
	SanitisedInputs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_sanitised_inputs_total",
			Help: "Total number of NaN/Inf feature or reward values replaced or skipped",
		},
		[]string{"site"}, // feature_vector, reward, snapshot
	)

	CholeskyRank1Failures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_cholesky_rank1_failures_total",
			Help: "Total number of abandoned rank-1 Cholesky updates (fell back to full re-decomposition)",
		},
	)

	BanditResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_bandit_resets_total",
			Help: "Total number of LinUCB models reset to lambda*I after unrecoverable instability",
		},
	)

	EnsembleWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amas_ensemble_weight",
			Help: "Most recently adapted ensemble weight per learner (fleet-wide last writer)",
		},
		[]string{"learner"}, // linucb, thompson, actr, heuristic
	)

	ColdStartClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_coldstart_classifications_total",
			Help: "Total number of cold-start user-type classifications",
		},
		[]string{"user_type", "early_stop"},
	)

	StateCorruptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_state_corruptions_total",
			Help: "Total number of restored sub-states that failed invariant checks",
		},
		[]string{"component"}, // bandit, thompson, coldstart, ensemble, modeling
	)

	// Persistence Metrics
	SnapshotsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_snapshots_written_total",
			Help: "Total number of model bundle snapshots persisted",
		},
	)

	SnapshotsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_snapshots_dropped_total",
			Help: "Total number of snapshots dropped because the queue was full",
		},
	)

	RecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_decision_records_written_total",
			Help: "Total number of decision records persisted to the decision log",
		},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_decision_records_dropped_total",
			Help: "Total number of decision records dropped after the enqueue deadline",
		},
	)

	RecordQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_record_queue_depth",
			Help: "Current depth of the decision record queue",
		},
	)

	SnapshotQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_snapshot_queue_depth",
			Help: "Current depth of the snapshot queue",
		},
	)

	SampledTracingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_sampled_tracing_active",
			Help: "1 while the record queue is above its high-water mark and traces are sampled",
		},
	)

	TracesSampledOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_traces_sampled_out_total",
			Help: "Total number of pipeline traces stripped under sampled tracing",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amas_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Bundle Cache Metrics
	BundleCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_bundle_cache_hits_total",
			Help: "Total number of bundle cache hits",
		},
	)

	BundleCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_bundle_cache_misses_total",
			Help: "Total number of bundle cache misses (materialised from store or priors)",
		},
	)

	BundleCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_bundle_cache_evictions_total",
			Help: "Total number of bundles evicted from the cache",
		},
		[]string{"reason"}, // lru, ttl, shutdown
	)

	BundlesResident = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_bundles_resident",
			Help: "Current number of model bundles held in memory",
		},
	)

	// Worker Pool Metrics
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_worker_tasks_total",
			Help: "Total number of tasks executed by the worker pool",
		},
		[]string{"kind", "result"}, // kind: linucb_select, linucb_update, cholesky_decompose, cholesky_rank1_update, gp_suggest
	)

	WorkerTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amas_worker_task_duration_seconds",
			Help:    "Duration of worker pool task execution",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		},
		[]string{"kind"},
	)

	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_worker_queue_depth",
			Help: "Current number of tasks waiting for a worker",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amas_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amas_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_api_requests_in_flight",
			Help: "Number of API requests currently being served",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_auth_failures_total",
			Help: "Total number of rejected API authentication attempts",
		},
		[]string{"mode"},
	)

	AuthzDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amas_authz_denials_total",
			Help: "Total number of authenticated requests denied by role policy",
		},
		[]string{"role"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_websocket_connections",
			Help: "Current number of active decision-stream subscribers",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_websocket_messages_sent_total",
			Help: "Total number of decision messages fanned out over WebSocket",
		},
	)

	WSClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_websocket_clients_dropped_total",
			Help: "Total number of subscribers disconnected for not keeping up",
		},
	)

	// NATS Ingest Metrics (build tag: nats)
	NATSMessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_nats_messages_published_total",
			Help: "Total number of raw events published to NATS",
		},
	)

	NATSMessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_nats_messages_consumed_total",
			Help: "Total number of raw events consumed from NATS",
		},
	)

	NATSMessagesParseFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_nats_messages_parse_failed_total",
			Help: "Total number of NATS messages that failed to parse",
		},
	)

	// Stats Tracker Metrics
	EffectRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_strategy_effect_rows_total",
			Help: "Total number of user-week aggregate rows flushed to the decision log",
		},
	)

	OptimizerObservationsFed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amas_optimizer_observations_fed_total",
			Help: "Total number of weekly scores recorded into the optimiser",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amas_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amas_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDecision records one emitted decision with its end-to-end latency.
func RecordDecision(source, phase string, duration time.Duration) {
	DecisionsTotal.WithLabelValues(source, phase).Inc()
	DecisionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordDBQuery records a decision-log query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIRequestsInFlight.Inc()
	} else {
		APIRequestsInFlight.Dec()
	}
}

// RecordWorkerTask records a worker pool task execution.
func RecordWorkerTask(kind string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	WorkerTasksTotal.WithLabelValues(kind, result).Inc()
	WorkerTaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetEnsembleWeights publishes the most recent per-learner weights.
func SetEnsembleWeights(weights map[string]float64) {
	for learner, w := range weights {
		EnsembleWeight.WithLabelValues(learner).Set(w)
	}
}
