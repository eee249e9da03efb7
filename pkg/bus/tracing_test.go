package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/telemetry"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestPublish_SyncModeTracesHandlers(t *testing.T) {
	sr := recordSpans(t)
	b, _ := newTestBus(t, WithConfig(Config{Mode: ModeSync}), WithFailureHandler(&collectingFailures{}))

	_, err := b.Subscribe(event.EmployeeOffboarded, "ok", func(context.Context, event.DomainEvent) (Result, error) {
		return Result{}, nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe(event.EmployeeOffboarded, "bad", func(context.Context, event.DomainEvent) (Result, error) {
		return Result{}, errors.New("bad")
	})
	require.NoError(t, err)

	evt := offboardingEvent(t)
	_, err = b.Publish(context.Background(), evt)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)

	var publish sdktrace.ReadOnlySpan
	handles := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		switch s.Name() {
		case "bus.publish":
			publish = s
		case "bus.handle":
			for _, kv := range s.Attributes() {
				if kv.Key == telemetry.AttrHandlerID {
					handles[kv.Value.AsString()] = s
				}
			}
		}
	}
	require.NotNil(t, publish)
	require.Len(t, handles, 2)

	for _, s := range handles {
		assert.Equal(t, publish.SpanContext().TraceID(), s.SpanContext().TraceID())
		assert.Equal(t, publish.SpanContext().SpanID(), s.Parent().SpanID())
	}
	assert.Equal(t, codes.Unset, handles["ok"].Status().Code)
	assert.Equal(t, codes.Error, handles["bad"].Status().Code)
	assert.Contains(t, publish.Attributes(), telemetry.AttrCorrelationID.String(evt.CorrelationID))
}

func TestPublish_InvalidEnvelopeMarksSpan(t *testing.T) {
	sr := recordSpans(t)
	b, _ := newTestBus(t)

	_, err := b.Publish(context.Background(), event.DomainEvent{})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bus.publish", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
