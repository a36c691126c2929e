package propagation

import (
	"context"
	"net/http"
	"strings"

	"github.com/devopsext/webtrace/common"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type HeaderGroup struct {
	TraceID string
	SpanID  string
}

// HeaderGroups are tried in order when no W3C context is present.
var HeaderGroups = []HeaderGroup{
	{TraceID: "X-Trace-ID", SpanID: "X-Span-ID"},
	{TraceID: "Trace-Id", SpanID: "Span-Id"},
	{TraceID: "Traceid", SpanID: "Spanid"},
}

type Options struct {
	Legacy bool
}

type Propagator struct {
	options    Options
	propagator propagation.TextMapPropagator
	logger     common.Logger
}

func (p *Propagator) Fields() []string {

	fields := p.propagator.Fields()
	for _, g := range HeaderGroups {
		fields = append(fields, g.TraceID, g.SpanID)
	}
	return fields
}

func padHex(s string, size int) string {

	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= size {
		return s[len(s)-size:]
	}
	return strings.Repeat("0", size-len(s)) + s
}

func (p *Propagator) extractGroup(headers http.Header, g HeaderGroup) (trace.SpanContext, bool) {

	traceHex := headers.Get(g.TraceID)
	if common.IsEmpty(traceHex) || len(traceHex) > 32 {
		return trace.SpanContext{}, false
	}

	traceID, err := trace.TraceIDFromHex(padHex(traceHex, 32))
	if err != nil {
		return trace.SpanContext{}, false
	}

	var spanID trace.SpanID
	spanHex := headers.Get(g.SpanID)
	if !common.IsEmpty(spanHex) && len(spanHex) <= 16 {
		spanID, err = trace.SpanIDFromHex(padHex(spanHex, 16))
		if err != nil {
			return trace.SpanContext{}, false
		}
	} else {
		copy(spanID[:], traceID[8:])
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// Extract returns ctx with the remote parent found in headers. Malformed or
// missing headers leave ctx unchanged.
func (p *Propagator) Extract(ctx context.Context, headers http.Header) context.Context {

	if headers == nil {
		return ctx
	}

	extracted := p.propagator.Extract(ctx, propagation.HeaderCarrier(headers))
	if trace.SpanContextFromContext(extracted).IsRemote() {
		return extracted
	}

	for _, g := range HeaderGroups {
		if sc, ok := p.extractGroup(headers, g); ok {
			p.logger.Debug("extracted legacy trace context from %s", g.TraceID)
			return trace.ContextWithRemoteSpanContext(extracted, sc)
		}
	}
	return extracted
}

// Inject writes the active span context of ctx into headers.
func (p *Propagator) Inject(ctx context.Context, headers http.Header) {

	if headers == nil {
		return
	}

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}

	p.propagator.Inject(ctx, propagation.HeaderCarrier(headers))

	if p.options.Legacy {
		g := HeaderGroups[0]
		if common.IsEmpty(headers.Get(g.TraceID)) {
			headers.Set(g.TraceID, sc.TraceID().String())
		}
		if common.IsEmpty(headers.Get(g.SpanID)) {
			headers.Set(g.SpanID, sc.SpanID().String())
		}
	}
}

// TextMapPropagator is the W3C composite used by Extract and Inject.
func (p *Propagator) TextMapPropagator() propagation.TextMapPropagator {
	return p.propagator
}

func NewPropagator(options Options, logger common.Logger) *Propagator {

	if logger == nil {
		logger = common.NewLogs()
	}

	return &Propagator{
		options: options,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		logger: logger,
	}
}
