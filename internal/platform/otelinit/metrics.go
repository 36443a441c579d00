package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments every component records against.
type Metrics struct {
	TaskDispatchDuration metric.Float64Histogram
	SchedulerPromotions  metric.Int64Counter
	LockConflicts        metric.Int64Counter
	AuditReworkCycles    metric.Int64Counter
	RetryAttempts        metric.Int64Counter
	CircuitOpenTransitions metric.Int64Counter
}

// InitMetrics sets up a global OTLP metrics exporter (push) and returns a
// shutdown func plus the common instrument set. Falls back to a no-op
// exporter (instruments still record, just aren't shipped) if the collector
// is unreachable.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler any, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, nil, createCommonInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, nil, createCommonInstruments()
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("mcs")
	dispatch, _ := meter.Float64Histogram("mcs_task_dispatch_duration_ms")
	promotions, _ := meter.Int64Counter("mcs_scheduler_promotions_total")
	lockConflicts, _ := meter.Int64Counter("mcs_lock_conflicts_total")
	reworkCycles, _ := meter.Int64Counter("mcs_audit_rework_cycles_total")
	retry, _ := meter.Int64Counter("mcs_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("mcs_resilience_circuit_open_total")
	return Metrics{
		TaskDispatchDuration:   dispatch,
		SchedulerPromotions:    promotions,
		LockConflicts:          lockConflicts,
		AuditReworkCycles:      reworkCycles,
		RetryAttempts:          retry,
		CircuitOpenTransitions: circuit,
	}
}
