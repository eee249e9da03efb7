// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry sets up OpenTelemetry tracing for the integration hub
// and provides the span helpers used around event dispatch and workflows.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/event"
)

// InstrumentationName names the tracer every hub package uses.
const InstrumentationName = "github.com/telekom/integration-hub"

// Span attribute keys.
const (
	AttrEventID       = attribute.Key("hub.event.id")
	AttrEventType     = attribute.Key("hub.event.type")
	AttrCorrelationID = attribute.Key("hub.correlation_id")
	AttrSourceModule  = attribute.Key("hub.event.source")
	AttrHandlerID     = attribute.Key("hub.handler.id")
	AttrWorkflow      = attribute.Key("hub.workflow")
)

// Options configures the TracerProvider.
type Options struct {
	// Enabled false installs a no-op provider.
	Enabled bool
	// ServiceName defaults to "integration-hub".
	ServiceName    string
	ServiceVersion string
	// Exporter is "otlp" (default), "stdout" or "none".
	Exporter string
	// Endpoint is the OTLP gRPC collector, e.g. "otel-collector:4317".
	Endpoint string
	Insecure bool
	// SamplingRate is clamped to [0, 1].
	SamplingRate float64
	Logger       *zap.Logger
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global TracerProvider and the W3C trace-context
// propagator. The returned ShutdownFunc is always safe to call.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "integration-hub"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("telemetry")

	if opts.SamplingRate < 0 || opts.SamplingRate > 1 {
		log.Warn("sampling rate out of range, sampling everything", zap.Float64("provided", opts.SamplingRate))
		opts.SamplingRate = 1
	}

	// NewSchemaless avoids schema URL conflicts with resource.Default().
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch opts.Exporter {
	case "otlp", "":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating OTLP gRPC exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
	case "none":
	default:
		return nil, nil, fmt.Errorf("unknown OTel exporter %q: supported values are otlp, stdout, none", opts.Exporter)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SamplingRate))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("OpenTelemetry internal error", zap.Error(err))
	}))

	log.Info("tracing initialized",
		zap.String("exporter", opts.Exporter),
		zap.String("endpoint", opts.Endpoint),
		zap.Float64("sampling_rate", opts.SamplingRate))

	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}
	return tp, shutdown, nil
}

// Tracer returns the hub tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// EventAttributes describes evt on a span.
func EventAttributes(evt event.DomainEvent) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventID.String(evt.ID),
		AttrEventType.String(string(evt.Type)),
		AttrCorrelationID.String(evt.CorrelationID),
		AttrSourceModule.String(string(evt.SourceModule)),
	}
}

// StartEventSpan starts a span carrying the event's identity.
func StartEventSpan(ctx context.Context, name string, evt event.DomainEvent, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(append(EventAttributes(evt), attrs...)...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
