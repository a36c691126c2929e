package provider

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"
	telemetry "github.com/newrelic/newrelic-telemetry-sdk-go/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type NewRelicOptions struct {
	ApiKey      string
	ServiceName string
	Environment string
	Version     string
	Attributes  string
	Debug       bool
}

type NewRelicTracerOptions struct {
	NewRelicOptions
	Endpoint string
}

type NewRelicLoggerOptions struct {
	NewRelicOptions
	Endpoint  string
	AgentHost string
	AgentPort int
	Level     string
}

type NewRelicMeterOptions struct {
	NewRelicOptions
	Endpoint string
	Prefix   string
}

// NewRelicExporter sends finished spans to the NewRelic trace API.
type NewRelicExporter struct {
	harvester *telemetry.Harvester
	options   NewRelicTracerOptions
	logger    common.Logger
}

type NewRelicLogger struct {
	harvester    *telemetry.Harvester
	connection   *net.TCPConn
	stdout       *Stdout
	log          *logrus.Logger
	options      NewRelicLoggerOptions
	callerOffset int
}

type NewRelicCounter struct {
	meter      *NewRelicMeter
	name       string
	attributes map[string]interface{}
}

type NewRelicGauge struct {
	meter      *NewRelicMeter
	name       string
	attributes map[string]interface{}
}

type NewRelicHistogram struct {
	meter      *NewRelicMeter
	name       string
	attributes map[string]interface{}
}

type NewRelicMeter struct {
	harvester *telemetry.Harvester
	options   NewRelicMeterOptions
	logger    common.Logger
}

func newRelicAttributes(s string) map[string]interface{} {

	attributes := make(map[string]interface{})
	for k, v := range common.GetKeyValues(s) {
		attributes[k] = v
	}
	return attributes
}

func newRelicHarvester(options NewRelicOptions, stdout *Stdout, cfgs ...func(*telemetry.Config)) (*telemetry.Harvester, error) {

	cfgs = append(cfgs,
		telemetry.ConfigAPIKey(options.ApiKey),
		telemetry.ConfigCommonAttributes(newRelicAttributes(options.Attributes)),
	)

	if options.Debug {
		cfgs = append(cfgs,
			telemetry.ConfigBasicErrorLogger(stdout.log.Writer()),
			telemetry.ConfigBasicDebugLogger(stdout.log.Writer()),
		)
	}
	return telemetry.NewHarvester(cfgs...)
}

func (nr *NewRelicExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {

	var last error
	for _, s := range spans {

		attributes := make(map[string]interface{})
		for _, kv := range s.Attributes() {
			attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
		attributes["span.kind"] = s.SpanKind().String()
		if s.Status().Code == codes.Error {
			attributes["error"] = true
			attributes["error.message"] = s.Status().Description
		}

		span := telemetry.Span{
			ID:          s.SpanContext().SpanID().String(),
			TraceID:     s.SpanContext().TraceID().String(),
			Name:        s.Name(),
			Timestamp:   s.StartTime(),
			Duration:    s.EndTime().Sub(s.StartTime()),
			ServiceName: nr.options.ServiceName,
			Attributes:  attributes,
		}
		if s.Parent().IsValid() {
			span.ParentID = s.Parent().SpanID().String()
		}

		if err := nr.harvester.RecordSpan(span); err != nil {
			nr.logger.Error(err)
			last = err
		}
	}
	return last
}

func (nr *NewRelicExporter) Shutdown(ctx context.Context) error {
	nr.harvester.HarvestNow(ctx)
	return nil
}

func NewNewRelicExporter(options NewRelicTracerOptions, logger common.Logger, stdout *Stdout) *NewRelicExporter {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.Endpoint) {
		stdout.Debug("NewRelic exporter is disabled.")
		return nil
	}

	harvester, err := newRelicHarvester(options.NewRelicOptions, stdout,
		telemetry.ConfigSpansURLOverride(options.Endpoint),
	)
	if err != nil {
		stdout.Error(err)
		return nil
	}

	logger.Info("NewRelic exporter is up...")

	return &NewRelicExporter{
		harvester: harvester,
		options:   options,
		logger:    logger,
	}
}

func (nr *NewRelicLogger) addSpanFields(span trace.Span, fields logrus.Fields) logrus.Fields {

	if span == nil {
		return fields
	}

	sc := span.SpanContext()
	if !sc.IsValid() {
		return fields
	}

	fields["trace.id"] = sc.TraceID().String()
	fields["span.id"] = sc.SpanID().String()
	return fields
}

func (nr *NewRelicLogger) logToApi(level, message string, fields logrus.Fields) bool {

	if nr.harvester == nil {
		return false
	}

	attributes := map[string]interface{}(fields)
	if attributes != nil {
		attributes["level"] = level
	}

	err := nr.harvester.RecordLog(telemetry.Log{
		Timestamp:  time.Now(),
		Message:    message,
		Attributes: attributes,
	})
	if err != nil {
		nr.stdout.Error(err)
		return false
	}
	return true
}

func (nr *NewRelicLogger) write(level logrus.Level, span trace.Span, obj interface{}, args ...interface{}) {

	exists, fields, message := nr.exists(level, obj, args...)
	if !exists {
		return
	}
	fields = nr.addSpanFields(span, fields)

	if nr.logToApi(level.String(), message, fields) || nr.log == nil {
		return
	}
	nr.log.WithFields(fields).Log(level, message)
}

func (nr *NewRelicLogger) Info(obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.InfoLevel, nil, obj, args...)
	return nr
}

func (nr *NewRelicLogger) SpanInfo(span trace.Span, obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.InfoLevel, span, obj, args...)
	return nr
}

func (nr *NewRelicLogger) Warn(obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.WarnLevel, nil, obj, args...)
	return nr
}

func (nr *NewRelicLogger) SpanWarn(span trace.Span, obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.WarnLevel, span, obj, args...)
	return nr
}

func (nr *NewRelicLogger) Error(obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.ErrorLevel, nil, obj, args...)
	return nr
}

func (nr *NewRelicLogger) SpanError(span trace.Span, obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.ErrorLevel, span, obj, args...)
	return nr
}

func (nr *NewRelicLogger) Debug(obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.DebugLevel, nil, obj, args...)
	return nr
}

func (nr *NewRelicLogger) SpanDebug(span trace.Span, obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.DebugLevel, span, obj, args...)
	return nr
}

func (nr *NewRelicLogger) Panic(obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.PanicLevel, nil, obj, args...)
	return nr
}

func (nr *NewRelicLogger) SpanPanic(span trace.Span, obj interface{}, args ...interface{}) common.Logger {
	nr.write(logrus.PanicLevel, span, obj, args...)
	return nr
}

func (nr *NewRelicLogger) Stack(offset int) common.Logger {
	nr.callerOffset = nr.callerOffset - offset
	return nr
}

func (nr *NewRelicLogger) enabled(level logrus.Level) bool {

	if nr.log != nil {
		return nr.log.IsLevelEnabled(level)
	}

	threshold, err := logrus.ParseLevel(nr.options.Level)
	if err != nil {
		threshold = logrus.InfoLevel
	}
	return threshold >= level
}

func (nr *NewRelicLogger) exists(level logrus.Level, obj interface{}, args ...interface{}) (bool, logrus.Fields, string) {

	exists, message := logMessage(nr.enabled(level), obj, args...)
	if !exists {
		return false, nil, ""
	}

	function, file, line := common.GetCallerInfo(nr.callerOffset + 5)
	fields := logrus.Fields{
		"file":    fmt.Sprintf("%s:%d", file, line),
		"func":    function,
		"service": nr.options.ServiceName,
		"version": nr.options.Version,
		"env":     nr.options.Environment,
	}

	for k, v := range common.GetKeyValues(nr.options.Attributes) {
		fields[k] = v
	}
	return true, fields, message
}

func (nr *NewRelicLogger) Stop() {
	if nr.connection != nil {
		nr.connection.Close()
	}
	if nr.harvester != nil {
		nr.harvester.HarvestNow(context.Background())
	}
}

func NewNewRelicLogger(options NewRelicLoggerOptions, logger common.Logger, stdout *Stdout) *NewRelicLogger {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.Endpoint) && utils.IsEmpty(options.AgentHost) {
		stdout.Debug("NewRelic logger is disabled.")
		return nil
	}

	var connection *net.TCPConn
	var log *logrus.Logger

	if utils.IsEmpty(options.Endpoint) {

		address := fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort)
		serverAddr, err := net.ResolveTCPAddr("tcp", address)
		if err != nil {
			stdout.Error(err)
			return nil
		}

		connection, err = net.DialTCP("tcp", nil, serverAddr)
		if err != nil {
			stdout.Error(err)
			return nil
		}

		formatter := &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
		formatter.TimestampFormat = time.RFC3339Nano

		log = logrus.New()
		log.SetFormatter(formatter)

		level, err := logrus.ParseLevel(options.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		log.SetLevel(level)
		log.SetOutput(connection)
	}

	var harvester *telemetry.Harvester

	if !utils.IsEmpty(options.Endpoint) {

		h, err := newRelicHarvester(options.NewRelicOptions, stdout,
			telemetry.ConfigLogsURLOverride(options.Endpoint),
		)
		if err != nil {
			stdout.Error(err)
			return nil
		}
		harvester = h
	}

	logger.Info("NewRelic logger is up...")

	return &NewRelicLogger{
		harvester:    harvester,
		connection:   connection,
		stdout:       stdout,
		log:          log,
		options:      options,
		callerOffset: 1,
	}
}

func (nrm *NewRelicMeter) name(name string, prefixes ...string) string {

	var names []string

	if !utils.IsEmpty(nrm.options.Prefix) {
		names = append(names, nrm.options.Prefix)
	}

	names = append(names, prefixes...)
	names = append(names, name)
	return strings.Join(names, ".")
}

func (nrm *NewRelicMeter) attributes(labels common.Labels) map[string]interface{} {

	m := make(map[string]interface{})
	for k, v := range labels {
		m[k] = v
	}
	return m
}

func (nrc *NewRelicCounter) Inc() common.Counter {
	return nrc.Add(1)
}

func (nrc *NewRelicCounter) Add(value int) common.Counter {

	nrc.meter.harvester.RecordMetric(telemetry.Count{
		Timestamp:  time.Now(),
		Name:       nrc.name,
		Value:      float64(value),
		Attributes: nrc.attributes,
	})
	return nrc
}

func (nrg *NewRelicGauge) Set(value float64) common.Gauge {

	nrg.meter.harvester.RecordMetric(telemetry.Gauge{
		Timestamp:  time.Now(),
		Name:       nrg.name,
		Value:      value,
		Attributes: nrg.attributes,
	})
	return nrg
}

func (nrh *NewRelicHistogram) Observe(value float64) common.Histogram {

	nrh.meter.harvester.RecordMetric(telemetry.Summary{
		Timestamp:  time.Now(),
		Name:       nrh.name,
		Count:      1,
		Sum:        value,
		Min:        value,
		Max:        value,
		Attributes: nrh.attributes,
	})
	return nrh
}

func (nrm *NewRelicMeter) Counter(name, description string, labels common.Labels, prefixes ...string) common.Counter {

	return &NewRelicCounter{
		meter:      nrm,
		name:       nrm.name(name, prefixes...),
		attributes: nrm.attributes(labels),
	}
}

func (nrm *NewRelicMeter) Gauge(name, description string, labels common.Labels, prefixes ...string) common.Gauge {

	return &NewRelicGauge{
		meter:      nrm,
		name:       nrm.name(name, prefixes...),
		attributes: nrm.attributes(labels),
	}
}

func (nrm *NewRelicMeter) Histogram(name, description string, labels common.Labels, prefixes ...string) common.Histogram {

	return &NewRelicHistogram{
		meter:      nrm,
		name:       nrm.name(name, prefixes...),
		attributes: nrm.attributes(labels),
	}
}

func (nrm *NewRelicMeter) Stop() {
	if nrm.harvester != nil {
		nrm.harvester.HarvestNow(context.Background())
	}
}

func NewNewRelicMeter(options NewRelicMeterOptions, logger common.Logger, stdout *Stdout) *NewRelicMeter {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.Endpoint) {
		stdout.Debug("NewRelic meter is disabled.")
		return nil
	}

	harvester, err := newRelicHarvester(options.NewRelicOptions, stdout,
		telemetry.ConfigMetricsURLOverride(options.Endpoint),
	)
	if err != nil {
		stdout.Error(err)
		return nil
	}

	logger.Info("NewRelic meter is up...")

	return &NewRelicMeter{
		harvester: harvester,
		options:   options,
		logger:    logger,
	}
}
