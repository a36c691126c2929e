package propagation

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestPropagatorRoundTrip(t *testing.T) {

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "client")
	defer span.End()

	p := NewPropagator(Options{}, nil)

	headers := http.Header{}
	p.Inject(ctx, headers)
	require.NotEmpty(t, headers.Get("traceparent"))
	assert.Empty(t, headers.Get("X-Trace-ID"))

	downstream := p.Extract(context.Background(), headers)
	sc := trace.SpanContextFromContext(downstream)

	assert.True(t, sc.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), sc.SpanID())
}

func TestPropagatorInjectLegacy(t *testing.T) {

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "client")
	defer span.End()

	p := NewPropagator(Options{Legacy: true}, nil)

	headers := http.Header{}
	p.Inject(ctx, headers)

	assert.Equal(t, span.SpanContext().TraceID().String(), headers.Get("x-trace-id"))
	assert.Equal(t, span.SpanContext().SpanID().String(), headers.Get("x-span-id"))
}

func TestPropagatorInjectNoContext(t *testing.T) {

	p := NewPropagator(Options{Legacy: true}, nil)

	headers := http.Header{}
	p.Inject(context.Background(), headers)
	assert.Empty(t, headers)

	p.Inject(context.Background(), nil)
}

func TestPropagatorExtractLegacy(t *testing.T) {

	p := NewPropagator(Options{}, nil)

	headers := http.Header{}
	headers.Set("trace-id", "abc")
	headers.Set("span-id", "1f")

	sc := trace.SpanContextFromContext(p.Extract(context.Background(), headers))
	require.True(t, sc.IsValid())
	assert.Equal(t, "00000000000000000000000000000abc", sc.TraceID().String())
	assert.Equal(t, "000000000000001f", sc.SpanID().String())
	assert.True(t, sc.IsSampled())

	headers = http.Header{}
	headers.Set("X-Trace-ID", "4bf92f3577b34da6a3ce929d0e0e4736")

	sc = trace.SpanContextFromContext(p.Extract(context.Background(), headers))
	require.True(t, sc.IsValid())
	assert.Equal(t, "a3ce929d0e0e4736", sc.SpanID().String())
}

func TestPropagatorExtractMalformed(t *testing.T) {

	p := NewPropagator(Options{}, nil)
	ctx := context.Background()

	cases := []http.Header{
		nil,
		{},
		{"Traceparent": []string{"garbage"}},
		{"X-Trace-Id": []string{"not-hex"}},
		{"X-Trace-Id": []string{"0"}},
		{"X-Trace-Id": []string{"4bf92f3577b34da6a3ce929d0e0e47364bf92f"}},
		{"Trace-Id": []string{"abc"}, "Span-Id": []string{"xyz"}},
	}

	for _, h := range cases {
		out := p.Extract(ctx, h)
		assert.False(t, trace.SpanContextFromContext(out).IsValid(), "%v", h)
	}
}

func TestPropagatorFields(t *testing.T) {

	p := NewPropagator(Options{}, nil)
	fields := p.Fields()

	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "X-Trace-ID")
}
