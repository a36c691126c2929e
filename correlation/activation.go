package correlation

import (
	"context"
	"sync/atomic"

	"github.com/devopsext/webtrace/common"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Activation binds a span into a context until Exit.
type Activation struct {
	ctx       context.Context
	span      trace.Span
	endOnExit bool
	exited    int32
}

func (a *Activation) Context() context.Context {
	return a.ctx
}

func (a *Activation) Span() trace.Span {
	return a.span
}

func (a *Activation) Exited() bool {
	return atomic.LoadInt32(&a.exited) == 1
}

// Exit runs once, records err on the span and ends it when the activation owns the span.
func (a *Activation) Exit(err error, options ...trace.SpanEndOption) bool {

	if !atomic.CompareAndSwapInt32(&a.exited, 0, 1) {
		return false
	}

	if err != nil && a.span.IsRecording() {

		attrs := []attribute.KeyValue{}
		if stack := common.ErrorStack(err); !common.IsEmpty(stack) {
			attrs = append(attrs, semconv.ExceptionStacktraceKey.String(stack))
		}
		a.span.RecordError(err, trace.WithAttributes(attrs...))
	}

	if a.endOnExit {
		a.span.End(options...)
	}
	return true
}

// Activate makes span current in ctx.
func Activate(ctx context.Context, span trace.Span, endOnExit bool) *Activation {

	if ctx == nil {
		ctx = context.Background()
	}
	return &Activation{
		ctx:       trace.ContextWithSpan(ctx, span),
		span:      span,
		endOnExit: endOnExit,
	}
}
