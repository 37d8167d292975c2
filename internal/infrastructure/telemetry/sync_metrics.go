package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

// Metric names.
const (
	MetricQueuesStarted     = "sync_queues_started_total"
	MetricQueuesFinished    = "sync_queues_finished_total"
	MetricItemsProcessed    = "sync_items_processed_total"
	MetricItemDuration      = "sync_item_duration_seconds"
	MetricItemRetries       = "sync_item_retries_total"
	MetricBatchSize         = "sync_batch_size"
	MetricPreviewsComputed  = "sync_previews_computed_total"
	MetricBreakerState      = "sync_circuit_breaker_state"
	MetricBreakerTransition = "sync_circuit_breaker_transitions_total"
)

// SyncMetrics exports sync engine events to Prometheus. It implements
// SyncObserver and can be registered as the resilience registry's breaker
// state observer.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type SyncMetrics struct {
	registry *prometheus.Registry

	queuesStarted     *prometheus.CounterVec
	queuesFinished    *prometheus.CounterVec
	itemsProcessed    *prometheus.CounterVec
	itemDuration      *prometheus.HistogramVec
	itemRetries       *prometheus.CounterVec
	batchSize         *prometheus.HistogramVec
	batchDuration     *prometheus.HistogramVec
	previewsComputed  *prometheus.CounterVec
	previewRecords    *prometheus.GaugeVec
	breakerState      *prometheus.GaugeVec
	breakerTransition *prometheus.CounterVec
}

// NewSyncMetrics creates the metrics on a private registry that also
// carries the Go runtime and process collectors.
func NewSyncMetrics() *SyncMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	labels := []string{"connector", "entity_type"}
	m := &SyncMetrics{
		registry: reg,
		queuesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQueuesStarted,
			Help: "Sync queues created.",
		}, labels),
		queuesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQueuesFinished,
			Help: "Sync queues that reached a terminal status.",
		}, append(labels, "status")),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricItemsProcessed,
			Help: "Queue items processed by outcome.",
		}, append(labels, "outcome")),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricItemDuration,
			Help:    "Time to process one queue item including retries.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, labels),
		itemRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricItemRetries,
			Help: "Retried item attempts.",
		}, append(labels, "rate_limited")),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBatchSize,
			Help:    "Items per processed batch.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}, labels),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_batch_duration_seconds",
			Help:    "Time to process one batch.",
			Buckets: prometheus.DefBuckets,
		}, labels),
		previewsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPreviewsComputed,
			Help: "Delta previews computed from the platform.",
		}, labels),
		previewRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_preview_records",
			Help: "Records in the latest computed preview.",
		}, labels),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricBreakerState,
			Help: "Circuit breaker state per connector (0 closed, 1 half-open, 2 open).",
		}, []string{"connector"}),
		breakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBreakerTransition,
			Help: "Circuit breaker transitions.",
		}, []string{"connector", "to"}),
	}

	reg.MustRegister(
		m.queuesStarted, m.queuesFinished,
		m.itemsProcessed, m.itemDuration, m.itemRetries,
		m.batchSize, m.batchDuration,
		m.previewsComputed, m.previewRecords,
		m.breakerState, m.breakerTransition,
	)
	return m
}

// Registry returns the registry the metrics live in.
func (m *SyncMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *SyncMetrics) QueueStarted(connectorID string, et integration.EntityType, _ int) {
	m.queuesStarted.WithLabelValues(connectorID, et.String()).Inc()
}

func (m *SyncMetrics) QueueFinished(connectorID string, et integration.EntityType, status integration.QueueStatus) {
	m.queuesFinished.WithLabelValues(connectorID, et.String(), status.String()).Inc()
}

func (m *SyncMetrics) ItemProcessed(connectorID string, et integration.EntityType, outcome string, d time.Duration) {
	m.itemsProcessed.WithLabelValues(connectorID, et.String(), outcome).Inc()
	m.itemDuration.WithLabelValues(connectorID, et.String()).Observe(d.Seconds())
}

func (m *SyncMetrics) ItemRetried(connectorID string, et integration.EntityType, rateLimited bool) {
	label := "false"
	if rateLimited {
		label = "true"
	}
	m.itemRetries.WithLabelValues(connectorID, et.String(), label).Inc()
}

func (m *SyncMetrics) BatchProcessed(connectorID string, et integration.EntityType, size int, d time.Duration) {
	m.batchSize.WithLabelValues(connectorID, et.String()).Observe(float64(size))
	m.batchDuration.WithLabelValues(connectorID, et.String()).Observe(d.Seconds())
}

func (m *SyncMetrics) PreviewComputed(connectorID string, et integration.EntityType, records int, _ time.Duration) {
	m.previewsComputed.WithLabelValues(connectorID, et.String()).Inc()
	m.previewRecords.WithLabelValues(connectorID, et.String()).Set(float64(records))
}

// BreakerStateChanged records a breaker transition; pass it to
// resilience.WithStateObserver.
func (m *SyncMetrics) BreakerStateChanged(connectorID string, _, to resilience.BreakerState) {
	m.breakerState.WithLabelValues(connectorID).Set(breakerStateValue(to))
	m.breakerTransition.WithLabelValues(connectorID, string(to)).Inc()
}

func breakerStateValue(s resilience.BreakerState) float64 {
	switch s {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}

var _ appintegration.SyncObserver = (*SyncMetrics)(nil)
