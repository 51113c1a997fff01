// Package observability provides OpenTelemetry metrics instrumentation,
// scraped over Prometheus, for the scheduler's dispatch loop.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// SchedulerMetrics holds the counters the Scheduler increments as it
// dispatches Jobs and records their outcomes. Call NewSchedulerMetrics
// after InitMetrics has installed the global MeterProvider.
type SchedulerMetrics struct {
	JobsDispatched otelmetric.Int64Counter
	JobOutcomes    otelmetric.Int64Counter
}

// NewSchedulerMetrics creates the Scheduler's counters against the
// global MeterProvider.
func NewSchedulerMetrics() (*SchedulerMetrics, error) {
	meter := otel.Meter("limmat/scheduler")

	dispatched, err := meter.Int64Counter("limmat_jobs_dispatched_total",
		otelmetric.WithDescription("Jobs started by the scheduler, labeled by test name"))
	if err != nil {
		return nil, fmt.Errorf("creating limmat_jobs_dispatched_total counter: %w", err)
	}

	outcomes, err := meter.Int64Counter("limmat_job_outcomes_total",
		otelmetric.WithDescription("Job outcomes, labeled by test name and outcome kind"))
	if err != nil {
		return nil, fmt.Errorf("creating limmat_job_outcomes_total counter: %w", err)
	}

	return &SchedulerMetrics{JobsDispatched: dispatched, JobOutcomes: outcomes}, nil
}
