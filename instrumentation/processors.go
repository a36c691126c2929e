package instrumentation

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/devopsext/webtrace/common"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const metricsPrefix = "webtrace"

func spanAttribute(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {

	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func canonicalStatus(s sdktrace.ReadOnlySpan) string {

	if v, ok := spanAttribute(s, "status.canonical_code"); ok {
		return v.AsString()
	}
	return s.Status().Code.String()
}

// SpanMetrics counts finished spans and tracks in-flight SERVER spans.
type SpanMetrics struct {
	meter    common.Meter
	inflight int64
	gauge    common.Gauge
}

var _ sdktrace.SpanProcessor = (*SpanMetrics)(nil)

func (sm *SpanMetrics) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {

	if s.SpanKind() != trace.SpanKindServer {
		return
	}
	sm.gauge.Set(float64(atomic.AddInt64(&sm.inflight, 1)))
}

func (sm *SpanMetrics) OnEnd(s sdktrace.ReadOnlySpan) {

	if s.SpanKind() == trace.SpanKindServer {
		sm.gauge.Set(float64(atomic.AddInt64(&sm.inflight, -1)))
	}

	labels := common.Labels{
		"kind":   s.SpanKind().String(),
		"name":   s.Name(),
		"status": canonicalStatus(s),
	}

	sm.meter.Counter("spans", "Finished spans", labels, metricsPrefix).Inc()

	duration := s.EndTime().Sub(s.StartTime())
	sm.meter.Histogram("span_duration_ms", "Span duration in milliseconds", labels, metricsPrefix).
		Observe(float64(duration.Milliseconds()))
}

func (sm *SpanMetrics) InFlight() int64 {
	return atomic.LoadInt64(&sm.inflight)
}

func (sm *SpanMetrics) Shutdown(ctx context.Context) error {
	return nil
}

func (sm *SpanMetrics) ForceFlush(ctx context.Context) error {
	return nil
}

func NewSpanMetrics(meter common.Meter) *SpanMetrics {

	if meter == nil {
		return nil
	}
	return &SpanMetrics{
		meter: meter,
		gauge: meter.Gauge("inflight_requests", "Requests with an open server span", nil, metricsPrefix),
	}
}

// ErrorEvents sends an event for every SERVER span which ended with a 5xx status.
type ErrorEvents struct {
	events common.Eventer
	logger common.Logger
}

var _ sdktrace.SpanProcessor = (*ErrorEvents)(nil)

func (ee *ErrorEvents) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

func (ee *ErrorEvents) OnEnd(s sdktrace.ReadOnlySpan) {

	if s.SpanKind() != trace.SpanKindServer {
		return
	}
	v, ok := spanAttribute(s, "http.status_code")
	if !ok || v.AsInt64() < 500 {
		return
	}

	attributes := map[string]string{
		"trace_id": s.SpanContext().TraceID().String(),
		"span_id":  s.SpanContext().SpanID().String(),
		"status":   fmt.Sprintf("%d", v.AsInt64()),
	}
	if target, ok := spanAttribute(s, "http.target"); ok {
		attributes["target"] = target.AsString()
	}
	if kind, ok := spanAttribute(s, "exception.type"); ok {
		attributes["exception"] = kind.AsString()
	}

	if err := ee.events.Interval(s.Name(), attributes, s.StartTime(), s.EndTime()); err != nil {
		ee.logger.Error(err)
	}
}

func (ee *ErrorEvents) Shutdown(ctx context.Context) error {
	return nil
}

func (ee *ErrorEvents) ForceFlush(ctx context.Context) error {
	return nil
}

func NewErrorEvents(events common.Eventer, logger common.Logger) *ErrorEvents {

	if events == nil {
		return nil
	}
	if logger == nil {
		logger = common.NewLogs()
	}
	return &ErrorEvents{events: events, logger: logger}
}
