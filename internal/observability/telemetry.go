// Package observability wires logging, tracing and metrics.  Traces and
// logs are exported over OTLP/HTTP when telemetry is enabled; metrics are
// always registered with the default Prometheus registry.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/ticket-marketplace/internal/config"
)

// TracerName is the instrumentation scope used by the service layer.
const TracerName = "github.com/iliyamo/ticket-marketplace"

// Tracer returns the tracer for checkout spans.  With telemetry disabled it
// is the global no-op tracer.
func Tracer() trace.Tracer { return otel.Tracer(TracerName) }

// SetupTelemetry installs the global tracer and logger providers.  The
// returned shutdown flushes both in reverse order.  Exporter failures are
// joined into err but never leave shutdown nil.
func SetupTelemetry(ctx context.Context, tc config.TelemetryConfig, version string) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			errs = errors.Join(errs, shutdownFuncs[i](ctx))
		}
		shutdownFuncs = nil
		return errs
	}
	if !tc.Enabled {
		return shutdown, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tc.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(tc.Endpoint)}
	logOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(tc.Endpoint)}
	if tc.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}

	var setupErr error
	traceExporter, errExp := otlptracehttp.New(ctx, traceOpts...)
	if errExp != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("failed to setup OTLP trace exporter: %w", errExp))
	} else {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter,
				sdktrace.WithMaxQueueSize(2048),
				sdktrace.WithBatchTimeout(5*time.Second),
			),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	}

	logExporter, errExp := otlploghttp.New(ctx, logOpts...)
	if errExp != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("failed to setup OTLP log exporter: %w", errExp))
	} else {
		lp := sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter,
				sdklog.WithExportTimeout(30*time.Second),
				sdklog.WithMaxQueueSize(2048),
			)),
		)
		global.SetLoggerProvider(lp)
		shutdownFuncs = append(shutdownFuncs, lp.Shutdown)
	}
	return shutdown, setupErr
}
