package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

// Workflow outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeNoOp         = "noop"
	OutcomeDenied       = "denied"
	OutcomePrecondition = "precondition"
	OutcomeInvalid      = "invalid"
	OutcomeConflict     = "conflict"
	OutcomeNotFound     = "not_found"
	OutcomePartial      = "partial"
	OutcomeError        = "error"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	workflowOps     *prometheus.CounterVec
	events          *prometheus.CounterVec
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	workflowOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_operations_total",
		Help: "Request workflow operations by outcome",
	}, []string{"operation", "outcome"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_events_total",
		Help: "Workflow events handed to the dispatcher by delivery result",
	}, []string{"type", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups, workflowOps, events, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		workflowOps:     workflowOps,
		events:          events,
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

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordWorkflow counts a workflow operation with the outcome derived from err.
func (m *MetricsService) RecordWorkflow(operation string, noop bool, err error) {
	if m == nil {
		return
	}
	m.workflowOps.WithLabelValues(operation, WorkflowOutcome(noop, err)).Inc()
}

// RecordEvent counts a dispatched event.
func (m *MetricsService) RecordEvent(eventType string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

// WorkflowOutcome maps an operation result onto an outcome label.
func WorkflowOutcome(noop bool, err error) string {
	if err == nil {
		if noop {
			return OutcomeNoOp
		}
		return OutcomeSuccess
	}
	switch appErrors.FromError(err).Code {
	case appErrors.ErrForbidden.Code, appErrors.ErrUnauthorized.Code:
		return OutcomeDenied
	case appErrors.ErrPreconditionFailed.Code:
		return OutcomePrecondition
	case appErrors.ErrValidation.Code:
		return OutcomeInvalid
	case appErrors.ErrConflict.Code:
		return OutcomeConflict
	case appErrors.ErrNotFound.Code:
		return OutcomeNotFound
	case appErrors.ErrPartialSequence.Code:
		return OutcomePartial
	}
	return OutcomeError
}
