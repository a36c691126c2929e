package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestStdout(t *testing.T) {

	stdout := NewStdout(StdoutOptions{
		Format:          "template",
		Level:           "info",
		Template:        "{{.msg}}",
		TimestampFormat: time.RFC3339Nano,
		TextColors:      true,
	})
	if stdout == nil {
		t.Fatal("Stdout is not defined")
	}

	var b bytes.Buffer
	stdout.SetOutput(&b)

	stdout.Info("Some info message...")
	stdout.Debug("Hidden debug message")
	stdout.Info("Formatted %d", 42)

	if b.String() != "Some info message...\nFormatted 42\n" {
		t.Fatalf("Invalid output %q", b.String())
	}
}

func TestStdoutSpanFields(t *testing.T) {

	stdout := NewStdout(StdoutOptions{Format: "json", Level: "debug"})

	var b bytes.Buffer
	stdout.SetOutput(&b)

	tp := sdktrace.NewTracerProvider()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	stdout.SpanError(span, errors.New("span failed"))

	var m map[string]interface{}
	if err := json.Unmarshal(b.Bytes(), &m); err != nil {
		t.Fatal(err)
	}

	if m["msg"] != "span failed" {
		t.Fatal("Invalid msg")
	}
	if m["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatal("Invalid trace_id")
	}
	if m["span_id"] != span.SpanContext().SpanID().String() {
		t.Fatal("Invalid span_id")
	}
	if m["level"] != "error" {
		t.Fatal("Invalid level")
	}
}
