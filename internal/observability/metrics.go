package observability

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem is the global telemetry system
	TelemetrySystem *telemetry.System

	// PrometheusExporter is the prometheus metrics exporter
	PrometheusExporter *exporters.PrometheusExporter

	metricsMu   sync.RWMutex
	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free port)
// and routes TelemetrySystem to it. Metric names are prefixed with namespace,
// or with serviceName when namespace is empty.
func InitMetrics(serviceName string, port int, namespace string) error {
	if port < 0 {
		return fmt.Errorf("invalid metrics port %d", port)
	}
	prefix := namespace
	if prefix == "" {
		prefix = serviceName
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}
	bound, err := resolvePort(exporter.GetAddr())
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("resolve metrics port: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		_ = exporter.Stop()
		return err
	}

	metricsMu.Lock()
	PrometheusExporter = exporter
	TelemetrySystem = sys
	metricsPort = bound
	metricsMu.Unlock()
	return nil
}

// ShutdownMetrics stops the exporter started by InitMetrics. Recording after
// shutdown is a no-op.
func ShutdownMetrics() error {
	metricsMu.Lock()
	exporter := PrometheusExporter
	PrometheusExporter = nil
	TelemetrySystem = nil
	metricsPort = 0
	metricsMu.Unlock()

	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the port the Prometheus exporter is listening on, or
// 0 when metrics are not running.
func GetMetricsPort() int {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	return port, nil
}
