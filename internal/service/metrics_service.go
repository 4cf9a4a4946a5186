package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/candidate-sync/internal/models"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	storeDuration       *prometheus.HistogramVec
	quotaReads          prometheus.Gauge
	quotaWrites         prometheus.Gauge
	quotaLocked         prometheus.Gauge
	subscriptionBatches *prometheus.CounterVec
	subscriptionErrors  *prometheus.CounterVec
	auditFailures       prometheus.Counter
	sessionsGauge       prometheus.Gauge

	requestCount         uint64
	requestDurationTotal uint64
	storeOpCount         uint64
	storeOpDurationTotal uint64
	batchCount           uint64
	errorCount           uint64
	activeSessions       int64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_operation_duration_seconds",
		Help:    "Duration of document store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op", "result"})

	quotaReads := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quota_reads_used",
		Help: "Estimated store reads consumed in the current quota window",
	})

	quotaWrites := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quota_writes_used",
		Help: "Estimated store writes consumed in the current quota window",
	})

	quotaLocked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quota_locked",
		Help: "1 while the advisory quota lock is held",
	})

	subscriptionBatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_batches_total",
		Help: "Change feed batches delivered per topic",
	}, []string{"topic"})

	subscriptionErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_errors_total",
		Help: "Fatal change feed errors per topic and kind",
	}, []string{"topic", "kind"})

	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_remote_failures_total",
		Help: "Remote audit appends that failed and were discarded",
	})

	sessionsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Engine sessions currently running",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, storeDuration, quotaReads, quotaWrites, quotaLocked,
		subscriptionBatches, subscriptionErrors, auditFailures, sessionsGauge, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		storeDuration:       storeDuration,
		quotaReads:          quotaReads,
		quotaWrites:         quotaWrites,
		quotaLocked:         quotaLocked,
		subscriptionBatches: subscriptionBatches,
		subscriptionErrors:  subscriptionErrors,
		auditFailures:       auditFailures,
		sessionsGauge:       sessionsGauge,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveStoreOperation implements repository.OperationObserver.
func (m *MetricsService) ObserveStoreOperation(backend, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = appErrors.Classify(err).String()
	}
	m.storeDuration.WithLabelValues(backend, op, result).Observe(duration.Seconds())
	atomic.AddUint64(&m.storeOpCount, 1)
	atomic.AddUint64(&m.storeOpDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveQuota mirrors the latest quota estimate into gauges.
func (m *MetricsService) ObserveQuota(state models.QuotaState) {
	if m == nil {
		return
	}
	m.quotaReads.Set(float64(state.ReadsUsed))
	m.quotaWrites.Set(float64(state.WritesUsed))
	if state.Locked {
		m.quotaLocked.Set(1)
	} else {
		m.quotaLocked.Set(0)
	}
}

// RecordSubscriptionBatch counts one delivered batch.
func (m *MetricsService) RecordSubscriptionBatch(topic string) {
	if m == nil {
		return
	}
	m.subscriptionBatches.WithLabelValues(topic).Inc()
	atomic.AddUint64(&m.batchCount, 1)
}

// RecordSubscriptionError counts one fatal feed error.
func (m *MetricsService) RecordSubscriptionError(topic string, kind appErrors.Kind) {
	if m == nil {
		return
	}
	m.subscriptionErrors.WithLabelValues(topic, kind.String()).Inc()
	atomic.AddUint64(&m.errorCount, 1)
}

// RecordAuditFailure counts a discarded remote audit append.
func (m *MetricsService) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// SessionStarted and SessionEnded track running engine sessions.
func (m *MetricsService) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsGauge.Set(float64(atomic.AddInt64(&m.activeSessions, 1)))
}

func (m *MetricsService) SessionEnded() {
	if m == nil {
		return
	}
	m.sessionsGauge.Set(float64(atomic.AddInt64(&m.activeSessions, -1)))
}

// Snapshot returns aggregated metrics suitable for the system endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	storeCount := atomic.LoadUint64(&m.storeOpCount)
	storeDuration := atomic.LoadUint64(&m.storeOpDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgStoreMs float64
	if storeCount > 0 {
		avgStoreMs = float64(storeDuration) / float64(storeCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		StoreOperations:          storeCount,
		AverageStoreOperationMs:  avgStoreMs,
		SubscriptionBatches:      atomic.LoadUint64(&m.batchCount),
		SubscriptionErrors:       atomic.LoadUint64(&m.errorCount),
		ActiveSessions:           atomic.LoadInt64(&m.activeSessions),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
