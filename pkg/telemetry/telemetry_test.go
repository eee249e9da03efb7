// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/event"
)

func keepGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitDisabled(t *testing.T) {
	keepGlobalProvider(t)

	ctx := context.Background()
	tp, shutdown, err := Init(ctx, Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init(disabled) returned error: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
	if _, ok := tp.(noop.TracerProvider); !ok {
		t.Errorf("expected noop.TracerProvider, got %T", tp)
	}
}

func TestInitExporters(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "none", opts: Options{Exporter: "none", ServiceName: "hub-test"}},
		{name: "stdout", opts: Options{Exporter: "stdout", SamplingRate: 0.5}},
		// The OTLP exporter connects lazily, so a dead endpoint still initializes.
		{name: "otlp", opts: Options{Exporter: "otlp", Endpoint: "localhost:0", Insecure: true}},
		{name: "negative sampling clamped", opts: Options{Exporter: "none", SamplingRate: -0.5}},
		{name: "sampling above one clamped", opts: Options{Exporter: "none", SamplingRate: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keepGlobalProvider(t)
			ctx := context.Background()
			tt.opts.Enabled = true
			tt.opts.Logger = zap.NewNop()

			tp, shutdown, err := Init(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Init returned error: %v", err)
			}
			t.Cleanup(func() { _ = shutdown(ctx) })
			if _, ok := tp.(*sdktrace.TracerProvider); !ok {
				t.Errorf("expected sdk TracerProvider, got %T", tp)
			}
		})
	}
}

func TestInitInvalidExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{Enabled: true, Exporter: "zipkin"})
	if err == nil {
		t.Fatal("expected error for invalid exporter, got nil")
	}
}

func TestShutdownTwice(t *testing.T) {
	keepGlobalProvider(t)

	ctx := context.Background()
	_, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("first shutdown returned error: %v", err)
	}
	_ = shutdown(ctx)
}

func TestStartEventSpan(t *testing.T) {
	keepGlobalProvider(t)
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))

	evt, err := event.New(event.ComplianceReviewPayload{
		EmployeeID: 9,
		TaskID:     "T-1",
		TaskName:   "Code of conduct",
		DueDate:    "2026-11-01",
	}, correlation.New(), event.ModuleCompliance)
	if err != nil {
		t.Fatal(err)
	}

	_, span := StartEventSpan(context.Background(), "workflow.initiate", evt, AttrWorkflow.String("COMPLIANCE_REVIEW"))
	End(span, errors.New("boom"))

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	got := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		string(AttrEventID):       evt.ID,
		string(AttrEventType):     string(evt.Type),
		string(AttrCorrelationID): evt.CorrelationID,
		string(AttrSourceModule):  string(event.ModuleCompliance),
		string(AttrWorkflow):      "COMPLIANCE_REVIEW",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}
