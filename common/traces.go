package common

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Traces fans finished spans out to every registered exporter.
type Traces struct {
	mu        sync.RWMutex
	exporters []sdktrace.SpanExporter
}

var _ sdktrace.SpanExporter = (*Traces)(nil)

func (ts *Traces) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var last error
	for _, e := range ts.exporters {
		if err := e.ExportSpans(ctx, spans); err != nil {
			last = errors.Wrapf(err, "export %d spans", len(spans))
		}
	}
	return last
}

func (ts *Traces) Shutdown(ctx context.Context) error {

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var last error
	for _, e := range ts.exporters {
		if err := e.Shutdown(ctx); err != nil {
			last = err
		}
	}
	return last
}

func (ts *Traces) Register(e sdktrace.SpanExporter) {
	if IsNil(e) {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.exporters = append(ts.exporters, e)
}

func (ts *Traces) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.exporters)
}

func NewTraces() *Traces {
	return &Traces{}
}
