package common

import "go.opentelemetry.io/otel/trace"

type Logger interface {
	Info(obj interface{}, args ...interface{}) Logger
	SpanInfo(span trace.Span, obj interface{}, args ...interface{}) Logger
	Warn(obj interface{}, args ...interface{}) Logger
	SpanWarn(span trace.Span, obj interface{}, args ...interface{}) Logger
	Error(obj interface{}, args ...interface{}) Logger
	SpanError(span trace.Span, obj interface{}, args ...interface{}) Logger
	Debug(obj interface{}, args ...interface{}) Logger
	SpanDebug(span trace.Span, obj interface{}, args ...interface{}) Logger
	Panic(obj interface{}, args ...interface{}) Logger
	SpanPanic(span trace.Span, obj interface{}, args ...interface{}) Logger
	Stack(offset int) Logger
}
