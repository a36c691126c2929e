package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	opentracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"github.com/uber/jaeger-client-go"
	jaegerConfig "github.com/uber/jaeger-client-go/config"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type JaegerOptions struct {
	ServiceName         string
	AgentHost           string
	AgentPort           int
	Endpoint            string
	User                string
	Password            string
	BufferFlushInterval int
	QueueSize           int
	Tags                string
	Version             string
}

// JaegerExporter replays finished spans into a Jaeger tracer keeping their ids.
type JaegerExporter struct {
	options JaegerOptions
	tracer  opentracing.Tracer
	closer  io.Closer
	logger  common.Logger
}

type JaegerLogger struct {
	logger common.Logger
}

func jaegerSpanContext(s sdktrace.ReadOnlySpan) (jaeger.SpanContext, error) {

	sc := s.SpanContext()
	traceID, err := jaeger.TraceIDFromString(sc.TraceID().String())
	if err != nil {
		return jaeger.SpanContext{}, errors.Wrap(err, "trace id")
	}

	spanID, err := jaeger.SpanIDFromString(sc.SpanID().String())
	if err != nil {
		return jaeger.SpanContext{}, errors.Wrap(err, "span id")
	}

	parentID := jaeger.SpanID(0)
	if s.Parent().IsValid() {
		parentID, err = jaeger.SpanIDFromString(s.Parent().SpanID().String())
		if err != nil {
			return jaeger.SpanContext{}, errors.Wrap(err, "parent id")
		}
	}
	return jaeger.NewSpanContext(traceID, spanID, parentID, true, nil), nil
}

func jaegerSpanKind(kind trace.SpanKind) ext.SpanKindEnum {

	switch kind {
	case trace.SpanKindServer:
		return ext.SpanKindRPCServerEnum
	case trace.SpanKindClient:
		return ext.SpanKindRPCClientEnum
	case trace.SpanKindProducer:
		return ext.SpanKindProducerEnum
	case trace.SpanKindConsumer:
		return ext.SpanKindConsumerEnum
	default:
		return ""
	}
}

func (j *JaegerExporter) exportSpan(s sdktrace.ReadOnlySpan) error {

	sc, err := jaegerSpanContext(s)
	if err != nil {
		return err
	}

	tags := opentracing.Tags{}
	for _, kv := range s.Attributes() {
		tags[string(kv.Key)] = kv.Value.AsInterface()
	}
	if kind := jaegerSpanKind(s.SpanKind()); kind != "" {
		tags[string(ext.SpanKind)] = kind
	}

	span := j.tracer.StartSpan(s.Name(), jaeger.SelfRef(sc), opentracing.StartTime(s.StartTime()), tags)

	if s.Status().Code == codes.Error {
		ext.Error.Set(span, true)
		span.LogFields(opentracingLog.String("message", s.Status().Description))
	}

	var records []opentracing.LogRecord
	for _, e := range s.Events() {
		fields := []opentracingLog.Field{opentracingLog.String("event", e.Name)}
		for _, kv := range e.Attributes {
			fields = append(fields, opentracingLog.String(string(kv.Key), kv.Value.Emit()))
		}
		records = append(records, opentracing.LogRecord{Timestamp: e.Time, Fields: fields})
	}

	span.FinishWithOptions(opentracing.FinishOptions{
		FinishTime: s.EndTime(),
		LogRecords: records,
	})
	return nil
}

func (j *JaegerExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {

	var last error
	for _, s := range spans {
		if err := j.exportSpan(s); err != nil {
			j.logger.Error(err)
			last = err
		}
	}
	return last
}

func (j *JaegerExporter) Shutdown(ctx context.Context) error {

	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

func (j *JaegerLogger) Error(msg string) {
	j.logger.Stack(-2).Error(msg).Stack(2)
}

func (j *JaegerLogger) Infof(msg string, args ...interface{}) {

	if utils.IsEmpty(msg) {
		return
	}

	msg = strings.TrimSpace(msg)
	if args != nil {
		j.logger.Stack(-2).Info(msg, args...).Stack(2)
	} else {
		j.logger.Stack(-2).Info(msg).Stack(2)
	}
}

func parseJaegerTags(sTags string) []opentracing.Tag {

	tags := make([]opentracing.Tag, 0)
	for k, v := range common.GetKeyValues(sTags) {
		tags = append(tags, opentracing.Tag{Key: k, Value: v})
	}
	return tags
}

func newJaegerTracer(options JaegerOptions, logger common.Logger, stdout *Stdout) (opentracing.Tracer, io.Closer) {

	disabled := utils.IsEmpty(options.AgentHost) && utils.IsEmpty(options.Endpoint)
	if disabled {
		return nil, nil
	}

	tags := parseJaegerTags(options.Tags)
	tags = append(tags, opentracing.Tag{
		Key:   "version",
		Value: options.Version,
	})

	cfg := &jaegerConfig.Configuration{

		ServiceName: options.ServiceName,
		Disabled:    disabled,
		Tags:        tags,

		// every span already passed the sdk sampler
		Sampler: &jaegerConfig.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},

		Reporter: &jaegerConfig.ReporterConfig{
			User:                options.User,
			Password:            options.Password,
			LocalAgentHostPort:  fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort),
			CollectorEndpoint:   options.Endpoint,
			BufferFlushInterval: time.Duration(options.BufferFlushInterval) * time.Second,
			QueueSize:           options.QueueSize,
		},
	}

	tracer, closer, err := cfg.NewTracer(jaegerConfig.Logger(&JaegerLogger{logger: logger}))
	if err != nil {
		stdout.Error(err)
		return nil, nil
	}
	return tracer, closer
}

func NewJaegerExporter(options JaegerOptions, logger common.Logger, stdout *Stdout) *JaegerExporter {

	if logger == nil {
		logger = stdout
	}

	tracer, closer := newJaegerTracer(options, logger, stdout)
	if tracer == nil {
		stdout.Debug("Jaeger exporter is disabled.")
		return nil
	}

	logger.Info("Jaeger exporter is up...")

	return &JaegerExporter{
		options: options,
		tracer:  tracer,
		closer:  closer,
		logger:  logger,
	}
}
