// Package observability provides Prometheus metrics instrumentation for the
// device client and its admin control plane.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeeves-cluster-organization/deviceclient/device"
)

// =============================================================================
// CALLBACK QUEUE METRICS
// =============================================================================

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "device_client_queue_depth",
			Help: "Current Callback Queue depth per client",
		},
		[]string{"client"},
	)

	queueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_client_queue_dropped_total",
			Help: "Total Callback Queue records dropped before dispatch",
		},
		[]string{"client", "kind"},
	)
)

// =============================================================================
// DETACHED TASK METRICS
// =============================================================================

var (
	detachedTasksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "device_client_detached_tasks_inflight",
			Help: "Current in-flight Detached Task count per client and task type",
		},
		[]string{"client", "task_type"},
	)
)

// =============================================================================
// WORKER METRICS
// =============================================================================

var (
	workerTickDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_client_worker_tick_duration_seconds",
			Help:    "Dispatch Worker tick (do_work + gc_sweep + drain) duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"client"},
	)

	dispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_client_dispatch_duration_seconds",
			Help:    "Per-record dispatch callback duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"client", "kind"},
	)
)

// =============================================================================
// GRPC METRICS (admin control plane)
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_client_grpc_requests_total",
			Help: "Total admin-plane gRPC requests",
		},
		[]string{"method", "status"},
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_client_grpc_request_duration_seconds",
			Help:    "Admin-plane gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// RecordGRPCRequest records admin-plane gRPC request metrics; it
// satisfies rpcserver.MetricsRecorder.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

func kindLabel(kind device.RecordKind) string {
	switch kind {
	case device.RecordDeviceTwin:
		return "device_twin"
	case device.RecordEventConfirmation:
		return "event_confirmation"
	case device.RecordReportedState:
		return "reported_state"
	case device.RecordConnectionStatus:
		return "connection_status"
	case device.RecordDeviceMethodSync:
		return "device_method_sync"
	case device.RecordDeviceMethodAsync:
		return "device_method_async"
	case device.RecordInboundMessage:
		return "inbound_message"
	case device.RecordInputMessage:
		return "input_message"
	default:
		return "unknown"
	}
}

// QueueSink adapts the package-level queue gauges/counters to
// device.QueueMetricsSink, so device never imports prometheus directly.
type QueueSink struct{}

func (QueueSink) ObserveDepth(clientID string, depth int) {
	queueDepth.WithLabelValues(clientID).Set(float64(depth))
}

func (QueueSink) IncDropped(clientID string, kind device.RecordKind) {
	queueDroppedTotal.WithLabelValues(clientID, kindLabel(kind)).Inc()
}

var _ device.QueueMetricsSink = QueueSink{}

// TaskSink adapts the in-flight task gauge to device.TaskMetricsSink.
type TaskSink struct{}

func (TaskSink) SetInFlight(clientID string, taskType device.TaskType, n int) {
	detachedTasksInFlight.WithLabelValues(clientID, taskType.String()).Set(float64(n))
}

var _ device.TaskMetricsSink = TaskSink{}

// WorkerSink adapts the tick/dispatch histograms to device.WorkerMetricsSink.
type WorkerSink struct{}

func (WorkerSink) ObserveTick(clientID string, seconds float64) {
	workerTickDurationSeconds.WithLabelValues(clientID).Observe(seconds)
}

func (WorkerSink) ObserveDispatch(clientID string, kind device.RecordKind, seconds float64) {
	dispatchDurationSeconds.WithLabelValues(clientID, kindLabel(kind)).Observe(seconds)
}

var _ device.WorkerMetricsSink = WorkerSink{}

// Sinks bundles all sinks for a single WithMetrics(...) call.
func Sinks() device.ClientMetricsSink {
	return device.ClientMetricsSink{Queue: QueueSink{}, Tasks: TaskSink{}, Worker: WorkerSink{}}
}
