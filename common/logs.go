package common

import (
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// Logs fans every call out to the registered loggers.
type Logs struct {
	loggers []Logger
}

func (ls *Logs) each(fn func(l Logger)) Logger {
	for _, l := range ls.loggers {
		fn(l)
	}
	return ls
}

func (ls *Logs) Info(obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.Info(obj, args...) })
}

func (ls *Logs) SpanInfo(span trace.Span, obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.SpanInfo(span, obj, args...) })
}

func (ls *Logs) Warn(obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.Warn(obj, args...) })
}

func (ls *Logs) SpanWarn(span trace.Span, obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.SpanWarn(span, obj, args...) })
}

func (ls *Logs) Error(obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.Error(obj, args...) })
}

// SpanError also records the error as an exception event of a recording span.
func (ls *Logs) SpanError(span trace.Span, obj interface{}, args ...interface{}) Logger {

	ls.each(func(l Logger) { l.SpanError(span, obj, args...) })

	if span == nil || !span.IsRecording() {
		return ls
	}

	switch v := obj.(type) {
	case nil:
	case error:
		span.RecordError(v)
	case string:
		if len(args) > 0 {
			v = fmt.Sprintf(v, args...)
		}
		if !IsEmpty(v) {
			span.RecordError(errors.New(v))
		}
	default:
		span.RecordError(errors.Errorf("%v", v))
	}
	return ls
}

func (ls *Logs) Debug(obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.Debug(obj, args...) })
}

func (ls *Logs) SpanDebug(span trace.Span, obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.SpanDebug(span, obj, args...) })
}

func (ls *Logs) Panic(obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.Panic(obj, args...) })
}

func (ls *Logs) SpanPanic(span trace.Span, obj interface{}, args ...interface{}) Logger {
	return ls.each(func(l Logger) { l.SpanPanic(span, obj, args...) })
}

func (ls *Logs) Stack(offset int) Logger {
	return ls.each(func(l Logger) { l.Stack(offset) })
}

// Register skips nil loggers, typed nil pointers included.
func (ls *Logs) Register(l Logger) {
	if !IsNil(l) {
		ls.loggers = append(ls.loggers, l)
	}
}

func (ls *Logs) Len() int {
	return len(ls.loggers)
}

func NewLogs() *Logs {
	return &Logs{}
}
