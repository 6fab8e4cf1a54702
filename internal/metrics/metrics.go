// Package metrics exposes prometheus counters for broker operations.
// Registration is lazy and process-wide; label values carry operation names,
// vault names, and error kinds, never secret names or values.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec

	metricsOnce sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		operationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_operations_total",
				Help: "Total number of broker operations dispatched",
			},
			[]string{"operation", "vault"},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_operation_errors_total",
				Help: "Total number of broker operations that failed, by error kind",
			},
			[]string{"operation", "kind"},
		)
	})
}

// RecordOperation counts a dispatched operation.
func RecordOperation(operation, vault string) {
	initMetrics()
	operationsTotal.WithLabelValues(operation, vault).Inc()
}

// RecordError counts a failed operation by error kind.
func RecordError(operation, kind string) {
	initMetrics()
	errorsTotal.WithLabelValues(operation, kind).Inc()
}
