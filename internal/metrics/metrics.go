// Package metrics provides Prometheus metrics for the doni services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the global Prometheus registry for all metrics.
	Registry = prometheus.NewRegistry()

	// initialized tracks whether metrics have been initialized.
	initialized = false
)

// Init initializes the metrics registry with all collectors.
// This should be called once during application startup.
func Init() error {
	if initialized {
		return nil
	}

	// Register Go runtime collectors
	if err := Registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	if err := registerHTTPMetrics(); err != nil {
		return err
	}
	if err := registerRateLimitMetrics(); err != nil {
		return err
	}
	if err := registerDatabaseMetrics(); err != nil {
		return err
	}
	if err := registerWorkerMetrics(); err != nil {
		return err
	}
	if err := registerRegistryMetrics(); err != nil {
		return err
	}

	initialized = true
	return nil
}

// MustInit initializes metrics and panics on error.
// Use this for application startup where metrics are required.
func MustInit() {
	if err := Init(); err != nil {
		panic("failed to initialize metrics: " + err.Error())
	}
}

var (
	// HardwareCount tracks registered hardware items by project and type.
	// Soft-deleted items are excluded.
	HardwareCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doni_hardware_total",
			Help: "Number of live hardware items in the registry",
		},
		[]string{"project_id", "hardware_type"},
	)

	// EnrollmentsTotal counts enrollment requests by hardware type and outcome.
	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doni_enrollments_total",
			Help: "Total number of hardware enrollment requests",
		},
		[]string{"hardware_type", "status"},
	)
)

// registerRegistryMetrics registers registry-level business metrics.
func registerRegistryMetrics() error {
	metrics := []prometheus.Collector{
		HardwareCount,
		EnrollmentsTotal,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
