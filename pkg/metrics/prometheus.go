// Package metrics provides Prometheus metrics for the popclaim service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultRefreshInterval = 10 * time.Second

// Latency buckets in milliseconds tuned for ledger round trips, which sit
// between a few hundred milliseconds and tens of seconds.
var ledgerBuckets = []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000, 45000, 90000}

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Event lifecycle
	eventsCreated    prometheus.Counter
	treesProvisioned *prometheus.CounterVec
	provisionLatency prometheus.Histogram
	costEstimates    prometheus.Counter

	// Claim ledger
	claimsIssued   prometheus.Counter
	claimsConsumed prometheus.Counter
	claimOutcomes  *prometheus.CounterVec
	integrityFails prometheus.Counter
	pendingClaims  prometheus.Gauge
	totalEvents    prometheus.Gauge

	// Mint coordinator
	mintSubmitLatency  prometheus.Histogram
	mintConfirmLatency prometheus.Histogram
	mintSharedAttempts prometheus.Counter

	// Reconciliation
	reconcileOutcomes *prometheus.CounterVec
	reconcileLatency  prometheus.Histogram

	// Repository
	repositoryShardCount    prometheus.Gauge
	repositoryRecordsTotal  *prometheus.GaugeVec
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps default Go collectors out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "popclaim",
		subsystem:        "claims",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval is how often gauges fed by polling should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Configure replaces the global manager with one built from opts on a fresh
// registry, which GetRegistry returns from then on. Call it before any
// metric is recorded.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// RefreshInterval of the global manager.
func RefreshInterval() time.Duration {
	if globalManager == nil {
		return defaultRefreshInterval
	}
	return globalManager.refreshInterval
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.eventsCreated = m.counter(auto, "events_created_total", "Total number of events created")
	m.treesProvisioned = m.counterVec(auto, "trees_provisioned_total", "Tree provisioning attempts by outcome", "outcome")
	m.provisionLatency = m.histogram(auto, "tree_provision_latency_milliseconds", "Tree provisioning latency in milliseconds", ledgerBuckets)
	m.costEstimates = m.counter(auto, "cost_estimates_total", "Total number of cost estimates computed")

	m.claimsIssued = m.counter(auto, "claims_issued_total", "Total number of claim codes issued")
	m.claimsConsumed = m.counter(auto, "claims_consumed_total", "Total number of claims consumed by a confirmed mint")
	m.claimOutcomes = m.counterVec(auto, "claim_attempts_total", "Claim attempts by outcome", "outcome")
	m.integrityFails = m.counter(auto, "integrity_violations_total", "Detected double-consume attempts with a different signature")
	m.pendingClaims = m.gauge(auto, "pending_reconciliation", "Claims whose last attempt awaits reconciliation")
	m.totalEvents = m.gauge(auto, "events", "Number of events in the store")

	m.mintSubmitLatency = m.histogram(auto, "mint_submit_latency_milliseconds", "Mint build and submit latency in milliseconds", ledgerBuckets)
	m.mintConfirmLatency = m.histogram(auto, "mint_confirm_latency_milliseconds", "Mint confirmation latency in milliseconds", ledgerBuckets)
	m.mintSharedAttempts = m.counter(auto, "mint_shared_attempts_total", "Concurrent claim calls collapsed onto an in-flight attempt")

	m.reconcileOutcomes = m.counterVec(auto, "reconcile_total", "Reconciliation results by outcome", "outcome")
	m.reconcileLatency = m.histogram(auto, "reconcile_latency_milliseconds", "Reconciliation latency in milliseconds", ledgerBuckets)

	m.repositoryShardCount = m.gauge(auto, "repository_shard_count", "Number of shards of the in-memory ledger store")
	m.repositoryRecordsTotal = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_records",
		Help:      "Stored records by kind (events, claims, mints)",
	}, []string{"kind"})
	m.repositoryUpdateLatency = m.histogram(auto, "repository_update_latency_milliseconds", "Store write latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram(auto, "repository_query_latency_milliseconds", "Store read latency in milliseconds", m.histogramBuckets)

	m.httpRequests = m.counterVec(auto, "http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.queueSize = m.gauge(auto, "reconcile_queue_size", "Current size of the reconciliation queue")
	m.queueCapacity = m.gauge(auto, "reconcile_queue_capacity", "Capacity of the reconciliation queue")
	m.queueUtilization = m.gauge(auto, "reconcile_queue_utilization_ratio", "Reconciliation queue utilization (size / capacity)")
	m.queueEnqueueRate = m.counter(auto, "reconcile_queue_enqueue_total", "Jobs enqueued for reconciliation")
	m.queueDequeueRate = m.counter(auto, "reconcile_queue_dequeue_total", "Jobs dequeued for reconciliation")
	m.queueEnqueueErrors = m.counter(auto, "reconcile_queue_enqueue_errors_total", "Jobs rejected by the reconciliation queue")

	m.workerCount = m.gauge(auto, "reconcile_worker_count", "Number of reconciliation workers")
	m.workerProcessingLatency = m.histogram(auto, "reconcile_worker_latency_milliseconds", "Per-job worker processing latency in milliseconds", ledgerBuckets)
	m.workerErrors = m.counter(auto, "reconcile_worker_errors_total", "Reconciliation jobs that ended in error")

	m.errorRateByComponent = m.counterVec(auto, "errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec(auto, "errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec(auto, "errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordEventCreated increments the events created counter.
func RecordEventCreated() {
	if on() {
		globalManager.eventsCreated.Inc()
	}
}

// RecordTreeProvisioned records a provisioning outcome (ready, failed, pending) and its latency.
func RecordTreeProvisioned(outcome string, latencyMs float64) {
	if on() {
		globalManager.treesProvisioned.WithLabelValues(outcome).Inc()
		globalManager.provisionLatency.Observe(latencyMs)
	}
}

// RecordCostEstimate increments the estimate counter.
func RecordCostEstimate() {
	if on() {
		globalManager.costEstimates.Inc()
	}
}

// RecordClaimsIssued adds n issued claim codes.
func RecordClaimsIssued(n int) {
	if on() {
		globalManager.claimsIssued.Add(float64(n))
	}
}

// RecordClaimConsumed increments the consumed claims counter.
func RecordClaimConsumed() {
	if on() {
		globalManager.claimsConsumed.Inc()
	}
}

// RecordClaimOutcome counts a claim attempt by its outcome label.
func RecordClaimOutcome(outcome string) {
	if on() {
		globalManager.claimOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordIntegrityViolation counts a detected double consume.
func RecordIntegrityViolation() {
	if on() {
		globalManager.integrityFails.Inc()
	}
}

// UpdatePendingClaims sets the number of claims awaiting reconciliation.
func UpdatePendingClaims(n int) {
	if on() {
		globalManager.pendingClaims.Set(float64(n))
	}
}

// UpdateTotalEvents sets the number of stored events.
func UpdateTotalEvents(n int) {
	if on() {
		globalManager.totalEvents.Set(float64(n))
	}
}

// RecordMintSubmitLatency records build+submit latency.
func RecordMintSubmitLatency(latencyMs float64) {
	if on() {
		globalManager.mintSubmitLatency.Observe(latencyMs)
	}
}

// RecordMintConfirmLatency records confirmation wait latency.
func RecordMintConfirmLatency(latencyMs float64) {
	if on() {
		globalManager.mintConfirmLatency.Observe(latencyMs)
	}
}

// RecordMintSharedAttempt counts a caller that joined an in-flight attempt.
func RecordMintSharedAttempt() {
	if on() {
		globalManager.mintSharedAttempts.Inc()
	}
}

// RecordReconcile counts a reconciliation outcome and its latency.
func RecordReconcile(outcome string, latencyMs float64) {
	if on() {
		globalManager.reconcileOutcomes.WithLabelValues(outcome).Inc()
		globalManager.reconcileLatency.Observe(latencyMs)
	}
}

// UpdateRepositoryShardCount sets the shard count of the memory store.
func UpdateRepositoryShardCount(count int) {
	if on() {
		globalManager.repositoryShardCount.Set(float64(count))
	}
}

// UpdateRepositoryRecords sets the number of stored records of a kind.
func UpdateRepositoryRecords(kind string, count int) {
	if on() {
		globalManager.repositoryRecordsTotal.WithLabelValues(kind).Set(float64(count))
	}
}

// RecordRepositoryUpdateLatency records a store write.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	if on() {
		globalManager.repositoryUpdateLatency.Observe(latencyMs)
	}
}

// RecordRepositoryQueryLatency records a store read.
func RecordRepositoryQueryLatency(latencyMs float64) {
	if on() {
		globalManager.repositoryQueryLatency.Observe(latencyMs)
	}
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// UpdateQueueSize sets the reconciliation queue length.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the reconciliation queue capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if on() {
		globalManager.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue counts an enqueued job.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue counts a dequeued job.
func RecordQueueDequeue() {
	if on() {
		globalManager.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError counts a rejected job.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// UpdateWorkerCount sets the number of reconciliation workers.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records per-job latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError counts a failed job.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// RecordErrorByComponent records an error for a component.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error by type and severity.
func RecordErrorByType(errorType, severity string) {
	if on() {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error for an HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Since returns the elapsed milliseconds since start, for latency observations.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
