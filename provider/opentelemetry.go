package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/propagation"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	"go.opentelemetry.io/otel/sdk/metric/selector/simple"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

type OpentelemetryOptions struct {
	ServiceName string
	Version     string
	Environment string
	Attributes  string
}

type OpentelemetryTracerOptions struct {
	OpentelemetryOptions
	AgentHost string
	AgentPort int
}

type OpentelemetryMeterOptions struct {
	OpentelemetryOptions
	AgentHost     string
	AgentPort     int
	Prefix        string
	CollectPeriod int64
}

// OpentelemetryTracer owns the sdk tracer provider every span of the process goes through.
type OpentelemetryTracer struct {
	options  OpentelemetryTracerOptions
	logger   common.Logger
	provider *sdktrace.TracerProvider
	exporter *otlptrace.Exporter
}

type OpentelemetryCounter struct {
	meter   *OpentelemetryMeter
	counter metric.Int64Counter
	labels  []attribute.KeyValue
}

type OpentelemetryGauge struct {
	meter   *OpentelemetryMeter
	counter metric.Float64UpDownCounter
	labels  []attribute.KeyValue
	mu      sync.Mutex
	value   float64
}

type OpentelemetryHistogram struct {
	meter     *OpentelemetryMeter
	histogram metric.Float64Histogram
	labels    []attribute.KeyValue
}

type OpentelemetryMeter struct {
	options    OpentelemetryMeterOptions
	logger     common.Logger
	meter      metric.Meter
	controller *controller.Controller
	exporter   *otlpmetric.Exporter
	attributes []attribute.KeyValue
}

func parseOpentelemetryAttrributes(sAttributes string) []attribute.KeyValue {

	attributes := make([]attribute.KeyValue, 0)
	for k, v := range common.GetKeyValues(sAttributes) {
		attributes = append(attributes, attribute.String(k, v))
	}
	return attributes
}

func opentelemetryResource(ctx context.Context, options OpentelemetryOptions) (*resource.Resource, error) {

	attributes := []attribute.KeyValue{
		semconv.ServiceNameKey.String(options.ServiceName),
		semconv.ServiceVersionKey.String(options.Version),
		semconv.DeploymentEnvironmentKey.String(options.Environment),
	}
	attributes = append(attributes, parseOpentelemetryAttrributes(options.Attributes)...)

	return resource.New(ctx, resource.WithAttributes(attributes...))
}

func (ott *OpentelemetryTracer) Provider() *sdktrace.TracerProvider {
	return ott.provider
}

func (ott *OpentelemetryTracer) ForceFlush(ctx context.Context) error {
	return ott.provider.ForceFlush(ctx)
}

func (ott *OpentelemetryTracer) Stop() {

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ott.provider.Shutdown(ctx); err != nil {
		ott.logger.Error(err)
	}
}

// NewOpentelemetryTracer builds the sdk tracer provider. Spans go to the OTLP agent when one is set,
// to every exporter registered in traces, and through processors in order.
func NewOpentelemetryTracer(options OpentelemetryTracerOptions, traces *common.Traces, processors []sdktrace.SpanProcessor,
	logger common.Logger, stdout *Stdout) *OpentelemetryTracer {

	if logger == nil {
		logger = stdout
	}

	ctx := context.Background()

	res, err := opentelemetryResource(ctx, options.OpentelemetryOptions)
	if err != nil {
		stdout.Error(err)
		return nil
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}

	var exporter *otlptrace.Exporter
	if !utils.IsEmpty(options.AgentHost) {

		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort)),
		)
		if err != nil {
			stdout.Error(err)
			return nil
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Info("Opentelemetry exporter is up...")
	}

	if traces != nil && traces.Len() > 0 {
		opts = append(opts, sdktrace.WithBatcher(traces))
	}

	for _, p := range processors {
		if !common.IsNil(p) {
			opts = append(opts, sdktrace.WithSpanProcessor(p))
		}
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("Opentelemetry tracer is up...")

	return &OpentelemetryTracer{
		options:  options,
		logger:   logger,
		provider: provider,
		exporter: exporter,
	}
}

func (otm *OpentelemetryMeter) name(name string, prefixes ...string) string {

	var names []string

	if !utils.IsEmpty(otm.options.Prefix) {
		names = append(names, otm.options.Prefix)
	}

	names = append(names, prefixes...)
	names = append(names, name)
	return strings.Join(names, ".")
}

func (otm *OpentelemetryMeter) labels(labels common.Labels) []attribute.KeyValue {

	var kvs []attribute.KeyValue
	kvs = append(kvs, otm.attributes...)
	for k, v := range labels {
		kvs = append(kvs, attribute.String(k, v))
	}
	return kvs
}

func (otc *OpentelemetryCounter) Inc() common.Counter {
	return otc.Add(1)
}

func (otc *OpentelemetryCounter) Add(value int) common.Counter {
	otc.counter.Add(context.Background(), int64(value), otc.labels...)
	return otc
}

// Set records the difference to the last value, the sum of an up-down counter is the gauge.
func (otg *OpentelemetryGauge) Set(value float64) common.Gauge {

	otg.mu.Lock()
	delta := value - otg.value
	otg.value = value
	otg.mu.Unlock()

	otg.counter.Add(context.Background(), delta, otg.labels...)
	return otg
}

func (oth *OpentelemetryHistogram) Observe(value float64) common.Histogram {
	oth.histogram.Record(context.Background(), value, oth.labels...)
	return oth
}

func (otm *OpentelemetryMeter) Counter(name, description string, labels common.Labels, prefixes ...string) common.Counter {

	counter := metric.Must(otm.meter).NewInt64Counter(otm.name(name, prefixes...), metric.WithDescription(description))
	return &OpentelemetryCounter{
		meter:   otm,
		counter: counter,
		labels:  otm.labels(labels),
	}
}

func (otm *OpentelemetryMeter) Gauge(name, description string, labels common.Labels, prefixes ...string) common.Gauge {

	counter := metric.Must(otm.meter).NewFloat64UpDownCounter(otm.name(name, prefixes...), metric.WithDescription(description))
	return &OpentelemetryGauge{
		meter:   otm,
		counter: counter,
		labels:  otm.labels(labels),
	}
}

func (otm *OpentelemetryMeter) Histogram(name, description string, labels common.Labels, prefixes ...string) common.Histogram {

	histogram := metric.Must(otm.meter).NewFloat64Histogram(otm.name(name, prefixes...), metric.WithDescription(description))
	return &OpentelemetryHistogram{
		meter:     otm,
		histogram: histogram,
		labels:    otm.labels(labels),
	}
}

func (otm *OpentelemetryMeter) Stop() {

	ctx := context.Background()
	if otm.controller != nil {
		if err := otm.controller.Stop(ctx); err != nil {
			otm.logger.Error(err)
		}
	}
	if otm.exporter != nil {
		otm.exporter.Shutdown(ctx)
	}
}

func startOpentelemetryMeter(options OpentelemetryMeterOptions, stdout *Stdout) (*metric.Meter, *controller.Controller, *otlpmetric.Exporter) {

	if utils.IsEmpty(options.AgentHost) {
		return nil, nil, nil
	}

	ctx := context.Background()

	res, err := opentelemetryResource(ctx, options.OpentelemetryOptions)
	if err != nil {
		stdout.Error(err)
		return nil, nil, nil
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort)),
	)
	if err != nil {
		stdout.Error(err)
		return nil, nil, nil
	}

	collectPeriod := options.CollectPeriod
	if collectPeriod == 0 {
		collectPeriod = 1000
	}

	cont := controller.New(
		processor.NewFactory(
			simple.NewWithHistogramDistribution(),
			metricExporter,
		),
		controller.WithCollectPeriod(time.Duration(collectPeriod)*time.Millisecond),
		controller.WithExporter(metricExporter),
		controller.WithResource(res),
	)

	err = cont.Start(ctx)
	if err != nil {
		stdout.Error(err)
		return nil, nil, nil
	}
	global.SetMeterProvider(cont)

	meter := global.Meter("github.com/devopsext/webtrace")
	return &meter, cont, metricExporter
}

func NewOpentelemetryMeter(options OpentelemetryMeterOptions, logger common.Logger, stdout *Stdout) *OpentelemetryMeter {

	if logger == nil {
		logger = stdout
	}

	meter, controller, exporter := startOpentelemetryMeter(options, stdout)
	if meter == nil {
		stdout.Debug("Opentelemetry meter is disabled.")
		return nil
	}

	logger.Info("Opentelemetry meter is up...")

	return &OpentelemetryMeter{
		options:    options,
		logger:     logger,
		meter:      *meter,
		controller: controller,
		exporter:   exporter,
		attributes: parseOpentelemetryAttrributes(options.Attributes),
	}
}
