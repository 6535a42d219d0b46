// Package metrics holds the Prometheus instrumentation shared by the key
// ring, the hardware-module session and the connector server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "signatory"

	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelMethod    = "method"
	LabelCode      = "code"

	StatusSuccess = "success"
	StatusError   = "error"

	OpSign      = "sign"
	OpPublicKey = "public_key"
	OpSession   = "create_session"
	OpRingSign  = "keyring_sign"
)

var (
	// OperationsTotal counts signing-layer operations by backend and outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of signing operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of signing operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// HSMLockWait is the time callers spend blocked on a shared session.
	HSMLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "hsm",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the hardware-module session lock",
			Buckets:   prometheus.DefBuckets,
		},
	)

	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests by method and status code",
		},
		[]string{LabelMethod, LabelCode},
	)
)

// RecordOperation records one operation that started at start and finished
// with err.
func RecordOperation(operation, backend string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	OperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

func RecordLockWait(d time.Duration) {
	HSMLockWait.Observe(d.Seconds())
}

func RecordGRPCRequest(method, code string) {
	GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}
