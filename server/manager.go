package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
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
	StatusTextKey      = attribute.Key("http.status_text")
	CanonicalStatusKey = attribute.Key("status.canonical_code")
)

type Options struct {
	Component string
	Excluded  *common.ExcludeList
}

// Request is what the host framework knows about an inbound request before the handler runs.
type Request struct {
	Context   context.Context
	Handler   string
	Method    string
	URI       string
	Path      string
	Scheme    string
	Host      string
	RemoteIP  string
	Header    http.Header
	StartTime time.Time
}

type Manager struct {
	options    Options
	tracer     trace.Tracer
	propagator *propagation.Propagator
	store      *correlation.Store
	logger     common.Logger
}

func SpanName(handler, method string) string {
	return fmt.Sprintf("%s.%s", handler, strings.ToLower(method))
}

func (m *Manager) recoverHook(where string) {
	if r := recover(); r != nil {
		m.logger.Error("%s recovered: %v", where, r)
	}
}

func (m *Manager) attributes(req Request) []attribute.KeyValue {

	attrs := []attribute.KeyValue{
		ComponentKey.String(m.options.Component),
		semconv.HTTPMethodKey.String(req.Method),
		semconv.HTTPSchemeKey.String(req.Scheme),
		semconv.HTTPHostKey.String(req.Host),
		semconv.HTTPTargetKey.String(req.Path),
	}
	if !common.IsEmpty(req.RemoteIP) {
		attrs = append(attrs, semconv.NetPeerIPKey.String(req.RemoteIP))
	}
	return attrs
}

func (m *Manager) Excluded(req Request) bool {
	return m.options.Excluded.Excluded(req.URI)
}

// OnRequestStart opens the SERVER span for key unless the request is excluded.
func (m *Manager) OnRequestStart(key interface{}, req Request) (entry *correlation.Entry) {

	defer m.recoverHook("request start")

	if m.Excluded(req) {
		m.logger.Debug("%s is excluded from tracing", req.URI)
		return nil
	}

	if e, ok := m.store.Get(key); ok {
		m.logger.Warn("request %s already has a span", req.URI)
		return e
	}

	previous := req.Context
	if previous == nil {
		previous = context.Background()
	}
	start := req.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	ctx, token := correlation.Attach(previous, m.propagator.Extract(previous, req.Header))

	ctx, span := m.tracer.Start(ctx, SpanName(req.Handler, req.Method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(m.attributes(req)...),
		trace.WithTimestamp(start),
	)

	activation := correlation.Activate(ctx, span, true)
	entry = &correlation.Entry{
		Activation: activation,
		Span:       span,
		Token:      token,
	}
	entry.Context = correlation.WithEntry(activation.Context(), entry)

	if err := m.store.Put(key, entry); err != nil {
		m.logger.SpanWarn(span, err)
	}

	m.logger.SpanDebug(span, "started %s", req.URI)
	return entry
}

// OnRequestFinish closes the SERVER span for key. It is a no-op once the entry is gone.
func (m *Manager) OnRequestFinish(key interface{}, req Request, status int, reason string, err error) (entry *correlation.Entry) {

	defer m.recoverHook("request finish")

	if err != nil {
		if code, ok := common.StatusCodeFromError(err); ok {
			status = code
		}
	}

	entry, ok := m.store.Take(key)
	if !ok && err != nil && status == http.StatusNotFound {
		if m.OnRequestStart(key, req) != nil {
			entry, ok = m.store.Take(key)
		}
	}
	if !ok {
		return nil
	}

	span := entry.Span
	var exitErr error

	if err != nil && status != http.StatusNotFound {
		exitErr = err
		span.SetAttributes(
			semconv.ExceptionTypeKey.String(common.ErrorKind(err)),
			semconv.ExceptionMessageKey.String(err.Error()),
		)
		if stack := common.ErrorStack(err); !common.IsEmpty(stack) {
			span.SetAttributes(semconv.ExceptionStacktraceKey.String(stack))
		}
		status = http.StatusInternalServerError
		reason = ""
	}

	if !common.IsEmpty(reason) {
		span.SetAttributes(StatusTextKey.String(reason))
	}
	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))

	code, canonical := common.SpanStatus(status)
	span.SetAttributes(CanonicalStatusKey.String(canonical.String()))
	span.SetStatus(code, reason)

	entry.Activation.Exit(exitErr)

	if _, derr := correlation.Detach(entry.Token); derr != nil {
		m.logger.SpanWarn(span, errors.Wrapf(derr, "detach %s", req.URI))
	}

	m.logger.SpanDebug(span, "finished %s with %d", req.URI, status)
	return entry
}

// InFlight is the number of open SERVER spans.
func (m *Manager) InFlight() int {
	return m.store.Len()
}

func NewManager(options Options, tracer trace.Tracer, propagator *propagation.Propagator, store *correlation.Store, logger common.Logger) (*Manager, error) {

	if tracer == nil {
		return nil, errors.New("server manager requires a tracer")
	}
	if logger == nil {
		logger = common.NewLogs()
	}
	if propagator == nil {
		propagator = propagation.NewPropagator(propagation.Options{}, logger)
	}
	if store == nil {
		store = correlation.NewStore()
	}
	if common.IsEmpty(options.Component) {
		options.Component = "web"
	}

	return &Manager{
		options:    options,
		tracer:     tracer,
		propagator: propagator,
		store:      store,
		logger:     logger,
	}, nil
}
