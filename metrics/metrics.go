// Package metrics - Prometheus instrumentation for model loading and execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgerunner_model_loads_total",
		Help: "Model construction attempts by backend and result",
	}, []string{"backend", "result"})

	ExecuteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgerunner_execute_duration_seconds",
		Help:    "Histogram of graph execution times",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"backend"})

	ExecuteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgerunner_execute_failures_total",
		Help: "Total number of failed graph executions",
	}, []string{"backend"})

	TensorBytesAllocated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgerunner_tensor_bytes_allocated",
		Help: "Current bytes held by tensor data buffers",
	}, []string{"backend"})

	SessionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgerunner_sessions_open",
		Help: "Backend sessions currently open by delegate",
	}, []string{"delegate"})

	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgerunner_cache_writes_total",
		Help: "Context binary cache writes by result",
	}, []string{"result"})
)

// ObserveLoad records the outcome of one model construction.
func ObserveLoad(backend string, err error) {
	ModelLoads.WithLabelValues(backend, result(err)).Inc()
}

// ObserveExecute records one execution and its latency.
func ObserveExecute(backend string, start time.Time, err error) {
	ExecuteDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		ExecuteFailures.WithLabelValues(backend).Inc()
	}
}

// ObserveCacheWrite records the outcome of one context binary save.
func ObserveCacheWrite(err error) {
	CacheWrites.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
