// Package metrics provides Prometheus metrics for the kemunify ledger service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ledger
	ledgerMutations  *prometheus.CounterVec
	ledgerLatency    *prometheus.HistogramVec
	ledgerNoops      *prometheus.CounterVec
	wasteTypesTotal  prometheus.Gauge
	customersTotal   prometheus.Gauge
	weightKilograms  prometheus.Gauge
	feedSubscribers  *prometheus.GaugeVec
	migrationsFailed prometheus.Counter

	// Exports and uploads
	exportsTotal     *prometheus.CounterVec
	exportDuration   prometheus.Histogram
	uploadsTotal     *prometheus.CounterVec
	uploadsDuplicate prometheus.Counter

	// Sign-in
	signInsTotal *prometheus.CounterVec

	// Detection
	detectionsTotal  *prometheus.CounterVec
	detectionLatency prometheus.Histogram
	framesDropped    prometheus.Counter

	// Queue and workers
	queueSize        *prometheus.GaugeVec
	queueCapacity    *prometheus.GaugeVec
	queueEnqueued    *prometheus.CounterVec
	queueDropped     *prometheus.CounterVec
	workerCount      *prometheus.GaugeVec
	workerErrors     *prometheus.CounterVec
	workerJobLatency *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec
	errorsByComponent   *prometheus.CounterVec

	// System
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
	gcPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "kemunify",
		subsystem:        "ledger",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.ledgerMutations = m.counterVec("mutations_total", "Committed ledger mutations by operation", "operation")
	m.ledgerLatency = m.histogramVec("operation_latency_milliseconds", "Ledger operation latency in milliseconds", "operation")
	m.ledgerNoops = m.counterVec("noops_total", "Ledger mutations that matched nothing", "operation")
	m.wasteTypesTotal = m.gauge("waste_types", "Number of waste types in the ledger")
	m.customersTotal = m.gauge("customers", "Number of registered customers")
	m.weightKilograms = m.gauge("weight_kilograms", "Sum of every recorded weight in kilograms")
	m.feedSubscribers = m.gaugeVec("feed_subscribers", "Active live-feed subscribers", "feed")
	m.migrationsFailed = m.counter("migrations_failed_total", "Schema migrations that failed and triggered a rebuild")

	m.exportsTotal = m.counterVec("exports_total", "Recap exports by result", "result")
	m.exportDuration = m.histogram("export_duration_milliseconds", "Recap export duration in milliseconds")
	m.uploadsTotal = m.counterVec("uploads_total", "Drive uploads by result", "result")
	m.uploadsDuplicate = m.counter("uploads_duplicate_total", "Upload requests ignored because the file was already pending")

	m.signInsTotal = m.counterVec("sign_ins_total", "Sign-in attempts by result", "result")

	m.detectionsTotal = m.counterVec("detections_total", "Detection calls by result", "result")
	m.detectionLatency = m.histogram("detection_latency_milliseconds", "Detection backend latency in milliseconds")
	m.framesDropped = m.counter("frames_dropped_total", "Camera frames replaced before analysis")

	m.queueSize = m.gaugeVec("queue_size", "Current queue backlog", "queue")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Maximum queue capacity", "queue")
	m.queueEnqueued = m.counterVec("queue_enqueue_total", "Items enqueued", "queue")
	m.queueDropped = m.counterVec("queue_dropped_total", "Items dropped or rejected by a full queue", "queue")
	m.workerCount = m.gaugeVec("worker_count", "Running workers", "pool")
	m.workerErrors = m.counterVec("worker_errors_total", "Jobs that returned an error", "pool")
	m.workerJobLatency = m.histogramVec("worker_job_latency_milliseconds", "Job handling latency in milliseconds", "pool")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.memoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.goroutineCount = m.gauge("system_goroutines", "Running goroutines")
	m.gcPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds")
}

// RecordLedgerMutation counts a committed mutation and its latency.
func RecordLedgerMutation(operation string, latencyMs float64) {
	globalManager.ledgerMutations.WithLabelValues(operation).Inc()
	globalManager.ledgerLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordLedgerQuery records the latency of a read.
func RecordLedgerQuery(operation string, latencyMs float64) {
	globalManager.ledgerLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordLedgerNoop counts a mutation that matched no rows.
func RecordLedgerNoop(operation string) {
	globalManager.ledgerNoops.WithLabelValues(operation).Inc()
}

// UpdateLedgerSize sets the waste type, customer and total weight gauges.
func UpdateLedgerSize(wasteTypes, customers int, kilograms float64) {
	globalManager.wasteTypesTotal.Set(float64(wasteTypes))
	globalManager.customersTotal.Set(float64(customers))
	globalManager.weightKilograms.Set(kilograms)
}

// AddFeedSubscribers adjusts the subscriber gauge for a feed by delta.
func AddFeedSubscribers(feed string, delta int) {
	globalManager.feedSubscribers.WithLabelValues(feed).Add(float64(delta))
}

// RecordMigrationFailure counts a failed migration.
func RecordMigrationFailure() {
	globalManager.migrationsFailed.Inc()
}

// RecordExport counts an export and records its duration.
func RecordExport(result string, durationMs float64) {
	globalManager.exportsTotal.WithLabelValues(result).Inc()
	globalManager.exportDuration.Observe(durationMs)
}

// RecordUpload counts an upload by result.
func RecordUpload(result string) {
	globalManager.uploadsTotal.WithLabelValues(result).Inc()
}

// RecordUploadDuplicate counts an ignored duplicate upload request.
func RecordUploadDuplicate() {
	globalManager.uploadsDuplicate.Inc()
}

// RecordSignIn counts a sign-in attempt by result.
func RecordSignIn(result string) {
	globalManager.signInsTotal.WithLabelValues(result).Inc()
}

// RecordDetection counts a detection call and records its latency.
func RecordDetection(result string, latencyMs float64) {
	globalManager.detectionsTotal.WithLabelValues(result).Inc()
	globalManager.detectionLatency.Observe(latencyMs)
}

// RecordFrameDropped counts a frame replaced by a newer one.
func RecordFrameDropped() {
	globalManager.framesDropped.Inc()
}

// UpdateQueueSize sets the backlog of the named queue.
func UpdateQueueSize(queue string, size int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
}

// UpdateQueueCapacity sets the capacity of the named queue.
func UpdateQueueCapacity(queue string, capacity int) {
	globalManager.queueCapacity.WithLabelValues(queue).Set(float64(capacity))
}

// RecordQueueEnqueue counts an accepted item.
func RecordQueueEnqueue(queue string) {
	globalManager.queueEnqueued.WithLabelValues(queue).Inc()
}

// RecordQueueDropped counts an item that was rejected or evicted.
func RecordQueueDropped(queue string) {
	globalManager.queueDropped.WithLabelValues(queue).Inc()
}

// UpdateWorkerCount sets the number of running workers of a pool.
func UpdateWorkerCount(pool string, count int) {
	globalManager.workerCount.WithLabelValues(pool).Set(float64(count))
}

// RecordWorkerJob records a handled job and whether it failed.
func RecordWorkerJob(pool string, latencyMs float64, failed bool) {
	globalManager.workerJobLatency.WithLabelValues(pool).Observe(latencyMs)
	if failed {
		globalManager.workerErrors.WithLabelValues(pool).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.memoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(n int) {
	globalManager.goroutineCount.Set(float64(n))
}

// RecordSystemGCPauseTime records the average GC pause.
func RecordSystemGCPauseTime(ms float64) {
	globalManager.gcPauseTime.Observe(ms)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
