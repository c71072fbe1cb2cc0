// Package metrics - метрики Prometheus для AssetKeeper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/assetkeeper/internal/apperr"
)

// Metrics содержит все метрики сервиса. Методы безопасны для nil-получателя.
type Metrics struct {
	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	DBOperationsTotal   *prometheus.CounterVec
	DBOperationDuration *prometheus.HistogramVec
	CASConflictsTotal   *prometheus.CounterVec
	MergesTotal         *prometheus.CounterVec
	ConflictsDetected   prometheus.Counter
	WorkflowTransitions *prometheus.CounterVec
	SweepTransitions    *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PoolInFlight        prometheus.Gauge
}

// New создаёт и регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_operations_total",
			Help: "Total number of service operations by result kind",
		}, []string{"operation", "kind"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetkeeper_operation_duration_seconds",
			Help:    "Duration of service operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		DBOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_db_operations_total",
			Help: "Total number of store operations",
		}, []string{"operation", "status"}),
		DBOperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetkeeper_db_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		CASConflictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_cas_conflicts_total",
			Help: "Total number of branch head compare-and-swap failures",
		}, []string{"operation"}),
		MergesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_merges_total",
			Help: "Total number of merges by strategy and result kind",
		}, []string{"strategy", "kind"}),
		ConflictsDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "assetkeeper_conflicts_detected_total",
			Help: "Total number of conflicts reported by the detector",
		}),
		WorkflowTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_workflow_transitions_total",
			Help: "Total number of approval workflow status transitions",
		}, []string{"status"}),
		SweepTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_sweep_transitions_total",
			Help: "Total number of workflows transitioned by maintenance sweeps",
		}, []string{"sweep"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetkeeper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetkeeper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PoolInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "assetkeeper_worker_pool_in_flight",
			Help: "Number of diff/merge computations currently running",
		}),
	}
}

// RecordOperation записывает итог операции сервиса.
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, apperr.Kind(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDBOperation записывает операцию с хранилищем.
func (m *Metrics) RecordDBOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DBOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DBOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCASConflict учитывает проигранный CAS.
func (m *Metrics) RecordCASConflict(operation string) {
	if m == nil {
		return
	}
	m.CASConflictsTotal.WithLabelValues(operation).Inc()
}

// RecordMerge учитывает слияние.
func (m *Metrics) RecordMerge(strategy string, err error) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(strategy, apperr.Kind(err)).Inc()
}

// RecordConflicts учитывает найденные конфликты.
func (m *Metrics) RecordConflicts(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ConflictsDetected.Add(float64(n))
}

// RecordWorkflowTransition учитывает переход процесса согласования.
func (m *Metrics) RecordWorkflowTransition(status string) {
	if m == nil {
		return
	}
	m.WorkflowTransitions.WithLabelValues(status).Inc()
}

// RecordSweep учитывает переходы, выполненные обходом.
func (m *Metrics) RecordSweep(sweep string, transitioned int) {
	if m == nil {
		return
	}
	m.SweepTransitions.WithLabelValues(sweep).Add(float64(transitioned))
}

// RecordHTTPRequest учитывает HTTP-запрос.
func (m *Metrics) RecordHTTPRequest(method, route, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// PoolAcquired и PoolReleased отслеживают занятость пула вычислений.
func (m *Metrics) PoolAcquired() {
	if m == nil {
		return
	}
	m.PoolInFlight.Inc()
}

// PoolReleased уменьшает счётчик занятых слотов пула.
func (m *Metrics) PoolReleased() {
	if m == nil {
		return
	}
	m.PoolInFlight.Dec()
}
