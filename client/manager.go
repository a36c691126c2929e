package client

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/devopsext/webtrace/common"
	"github.com/devopsext/webtrace/correlation"
	"github.com/devopsext/webtrace/propagation"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ComponentKey       = attribute.Key("component")
	CanonicalStatusKey = attribute.Key("status.canonical_code")
)

type Options struct {
	Component string
}

// Call describes an outbound HTTP call about to be issued. Header is mutated by inject.
type Call struct {
	Method    string
	URL       string
	Header    http.Header
	StartTime time.Time
	Redirect  bool
}

// Outcome is the terminal state of an outbound call.
type Outcome struct {
	StatusCode int
	Err        error
}

// Pending tracks a CLIENT span until its call settles.
type Pending struct {
	span       trace.Span
	activation *correlation.Activation
	settled    int32
}

// Traced is false for pass-through calls such as redirect steps.
func (p *Pending) Traced() bool {
	return p != nil && p.span != nil
}

func (p *Pending) Span() trace.Span {
	if p == nil {
		return nil
	}
	return p.span
}

func (p *Pending) Settled() bool {
	return p != nil && atomic.LoadInt32(&p.settled) == 1
}

type Settle func(Outcome)

// DispatchFunc issues the call with ctx and arranges for settle to run once it completes.
type DispatchFunc func(ctx context.Context, settle Settle)

type Manager struct {
	options    Options
	tracer     trace.Tracer
	propagator *propagation.Propagator
	logger     common.Logger
}

// OnOutboundCallStart opens a CLIENT span and injects it into call.Header.
// The returned context must be used to issue the call.
func (m *Manager) OnOutboundCallStart(ctx context.Context, call Call) (*Pending, context.Context) {

	if ctx == nil {
		ctx = context.Background()
	}
	if call.Redirect {
		return &Pending{}, ctx
	}

	start := call.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	spanCtx, span := m.tracer.Start(ctx, call.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			ComponentKey.String(m.options.Component),
			semconv.HTTPURLKey.String(call.URL),
			semconv.HTTPMethodKey.String(call.Method),
		),
		trace.WithTimestamp(start),
	)

	activation := correlation.Activate(spanCtx, span, false)
	m.propagator.Inject(activation.Context(), call.Header)

	return &Pending{span: span, activation: activation}, activation.Context()
}

// OnOutboundCallSettle ends the CLIENT span. Only the first call for p has effect.
func (m *Manager) OnOutboundCallSettle(p *Pending, outcome Outcome) bool {

	if !p.Traced() || !atomic.CompareAndSwapInt32(&p.settled, 0, 1) {
		return false
	}

	span := p.span
	status := 0
	description := ""

	if outcome.Err != nil {
		if code, ok := common.StatusCodeFromError(outcome.Err); ok {
			status = code
		}
		description = fmt.Sprintf("%s: %s", common.ErrorKind(outcome.Err), outcome.Err.Error())
		span.RecordError(outcome.Err)
	} else {
		status = outcome.StatusCode
	}

	if status != 0 {
		code, canonical := common.SpanStatus(status)
		span.SetAttributes(
			semconv.HTTPStatusCodeKey.Int(status),
			CanonicalStatusKey.String(canonical.String()),
		)
		span.SetStatus(code, description)
	}

	p.activation.Exit(nil)
	span.End()

	m.logger.SpanDebug(span, "settled %s with %d", span.SpanContext().SpanID(), status)
	return true
}

// Dispatch runs issue inside the CLIENT span activation. The activation ends when
// issue returns, the span when settle is called.
func (m *Manager) Dispatch(ctx context.Context, call Call, issue DispatchFunc) *Pending {

	if issue == nil {
		panic(errors.New("dispatch requires an issue func"))
	}

	pending, dctx := m.OnOutboundCallStart(ctx, call)
	settle := func(o Outcome) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("settle recovered: %v", r)
			}
		}()
		m.OnOutboundCallSettle(pending, o)
	}

	issue(dctx, settle)

	if pending.activation != nil {
		pending.activation.Exit(nil)
	}
	return pending
}

func NewManager(options Options, tracer trace.Tracer, propagator *propagation.Propagator, logger common.Logger) (*Manager, error) {

	if tracer == nil {
		return nil, errors.New("client manager requires a tracer")
	}
	if logger == nil {
		logger = common.NewLogs()
	}
	if propagator == nil {
		propagator = propagation.NewPropagator(propagation.Options{}, logger)
	}
	if common.IsEmpty(options.Component) {
		options.Component = "web"
	}

	return &Manager{
		options:    options,
		tracer:     tracer,
		propagator: propagator,
		logger:     logger,
	}, nil
}
