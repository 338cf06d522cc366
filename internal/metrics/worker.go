package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WorkerTasksProcessed counts processed worker tasks by worker type and
	// resulting state.
	WorkerTasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doni_worker_tasks_processed_total",
			Help: "Total number of worker tasks processed",
		},
		[]string{"worker_type", "state"},
	)

	// WorkerTaskDuration measures how long a single task execution takes.
	WorkerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "doni_worker_task_duration_seconds",
			Help: "Worker task execution duration in seconds",
			// External API calls dominate: 10ms to 5m
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"worker_type"},
	)

	// WorkerTasksPending tracks tasks waiting for the next sweep.
	WorkerTasksPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doni_worker_tasks_pending",
			Help: "Number of worker tasks currently in the PENDING state",
		},
		[]string{"worker_type"},
	)

	// WorkerBatchSize records how many tasks each sweep picked up.
	WorkerBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doni_worker_batch_size",
			Help:    "Number of tasks claimed per processing sweep",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

// registerWorkerMetrics registers all worker-related metrics.
func registerWorkerMetrics() error {
	metrics := []prometheus.Collector{
		WorkerTasksProcessed,
		WorkerTaskDuration,
		WorkerTasksPending,
		WorkerBatchSize,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
