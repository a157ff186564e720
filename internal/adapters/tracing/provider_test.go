package tracing

import (
	"context"
	"testing"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider(domain.TracingConfig{Enabled: true, ServiceName: "regiflow-test"}, nil,
		WithSpanProcessor(recorder))
	require.True(t, provider.Enabled())

	ctx, parent := provider.Tracer("test").Start(context.Background(), "regiflow.execution")
	_, child := provider.Tracer("test").Start(ctx, "regiflow.step")

	metrics := provider.GetMetrics()
	assert.Equal(t, int64(2), metrics.SpansCreated)
	assert.Equal(t, int64(2), metrics.SpansActive)

	child.End()
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "regiflow.step", ended[0].Name())
	assert.Equal(t, ended[1].SpanContext().TraceID(), ended[0].Parent().TraceID())

	var service string
	for _, attr := range ended[1].Resource().Attributes() {
		if attr.Key == "service.name" {
			service = attr.Value.AsString()
		}
	}
	assert.Equal(t, "regiflow-test", service)

	metrics = provider.GetMetrics()
	assert.Equal(t, int64(2), metrics.SpansFinished)
	assert.Zero(t, metrics.SpansActive)

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestDisabledProviderIsNoop(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider(domain.TracingConfig{}, nil, WithSpanProcessor(recorder))
	assert.False(t, provider.Enabled())

	_, span := provider.Tracer("test").Start(context.Background(), "regiflow.execution")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.Empty(t, recorder.Ended())
	assert.Zero(t, provider.GetMetrics().SpansCreated)
	assert.NoError(t, provider.ForceFlush(context.Background()))
	assert.NoError(t, provider.Shutdown(context.Background()))
}
