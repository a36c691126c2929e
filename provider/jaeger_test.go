package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/jaeger-client-go"
)

func TestJaegerExporter(t *testing.T) {

	reporter := jaeger.NewInMemoryReporter()
	tracer, closer := jaeger.NewTracer("webtrace-jaeger-test", jaeger.NewConstSampler(true), reporter)

	exporter := &JaegerExporter{
		tracer: tracer,
		closer: closer,
		logger: testStdout(),
	}

	spans := testSpans()
	require.NoError(t, exporter.ExportSpans(context.Background(), spans))
	require.NoError(t, exporter.Shutdown(context.Background()))

	reported := reporter.GetSpans()
	if len(reported) != 2 {
		t.Fatalf("Invalid reported spans: %d", len(reported))
	}

	client := reported[0].(*jaeger.Span)
	server := reported[1].(*jaeger.Span)

	serverCtx := server.Context().(jaeger.SpanContext)
	clientCtx := client.Context().(jaeger.SpanContext)

	assert.Equal(t, spans[1].SpanContext().TraceID().String(), serverCtx.TraceID().String())
	assert.Equal(t, spans[1].SpanContext().SpanID().String(), serverCtx.SpanID().String())
	assert.Equal(t, jaeger.SpanID(0), serverCtx.ParentID())
	assert.Equal(t, serverCtx.SpanID(), clientCtx.ParentID())
	assert.Equal(t, serverCtx.TraceID(), clientCtx.TraceID())

	assert.Equal(t, "MainHandler.get", server.OperationName())
	assert.Equal(t, "GET", client.OperationName())
	assert.Equal(t, true, client.Tags()["error"])
	assert.Equal(t, "http://localhost/fail", client.Tags()["http.url"])
	assert.True(t, server.StartTime().Equal(spans[1].StartTime()))
	assert.Equal(t, spans[1].EndTime().Sub(spans[1].StartTime()), server.Duration())
}

func TestJaegerExporterDisabled(t *testing.T) {

	if NewJaegerExporter(JaegerOptions{ServiceName: "webtrace"}, nil, testStdout()) != nil {
		t.Fatal("Valid jaeger exporter")
	}
}

func TestJaegerExporterAgent(t *testing.T) {

	exporter := NewJaegerExporter(JaegerOptions{
		AgentHost:   "localhost",
		AgentPort:   6831,
		ServiceName: "webtrace-jaeger-test",
		Tags:        "tag1=value1",
	}, nil, testStdout())
	if exporter == nil {
		t.Fatal("Invalid jaeger exporter")
	}

	require.NoError(t, exporter.ExportSpans(context.Background(), testSpans()))
	exporter.Shutdown(context.Background())
}
