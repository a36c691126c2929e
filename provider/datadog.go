package provider

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/datadog-api-client-go/api/v1/datadog"
	"github.com/DataDog/datadog-go/statsd"
	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/ext"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

type DataDogOptions struct {
	ApiKey      string
	ServiceName string
	Environment string
	Version     string
	Tags        string
	Debug       bool
}

type DataDogTracerOptions struct {
	DataDogOptions
	AgentHost string
	AgentPort int
}

type DataDogLoggerOptions struct {
	DataDogOptions
	AgentHost string
	AgentPort int
	Level     string
}

type DataDogMeterOptions struct {
	DataDogOptions
	AgentHost string
	AgentPort int
	Prefix    string
}

type DataDogEventerOptions struct {
	DataDogOptions
	Site    string
	URL     string
	Timeout int
}

type DataDogInternalLogger struct {
	logger common.Logger
}

// DataDogExporter re-emits finished spans through the DataDog tracer.
type DataDogExporter struct {
	options DataDogTracerOptions
	logger  common.Logger
}

type DataDogLogger struct {
	connection   *net.UDPConn
	stdout       *Stdout
	log          *logrus.Logger
	options      DataDogLoggerOptions
	callerOffset int
}

type DataDogCounter struct {
	meter *DataDogMeter
	name  string
	tags  []string
}

type DataDogGauge struct {
	meter *DataDogMeter
	name  string
	tags  []string
}

type DataDogHistogram struct {
	meter *DataDogMeter
	name  string
	tags  []string
}

type DataDogMeter struct {
	options DataDogMeterOptions
	logger  common.Logger
	client  *statsd.Client
}

func (ddtl *DataDogInternalLogger) Log(msg string) {
	ddtl.logger.Info(msg)
}

// low64 is the DataDog id of an OpenTelemetry trace id.
func low64(id trace.TraceID) uint64 {
	return common.TraceIDHexToUint64(id.String())
}

func spanID64(id trace.SpanID) uint64 {
	return common.SpanIDHexToUint64(id.String())
}

func dataDogSpanType(kind trace.SpanKind) string {

	switch kind {
	case trace.SpanKindServer:
		return ext.SpanTypeWeb
	case trace.SpanKindClient:
		return ext.SpanTypeHTTP
	default:
		return "custom"
	}
}

// parentContext builds the DataDog parent of s. Roots hang off their own trace id.
func (dd *DataDogExporter) parentContext(s sdktrace.ReadOnlySpan) (ddtrace.SpanContext, error) {

	traceID := low64(s.SpanContext().TraceID())
	parentID := traceID
	if s.Parent().IsValid() {
		parentID = spanID64(s.Parent().SpanID())
	}

	carrier := tracer.TextMapCarrier{
		tracer.DefaultTraceIDHeader:  strconv.FormatUint(traceID, 10),
		tracer.DefaultParentIDHeader: strconv.FormatUint(parentID, 10),
	}
	return tracer.Extract(carrier)
}

func (dd *DataDogExporter) exportSpan(s sdktrace.ReadOnlySpan) error {

	opts := []ddtrace.StartSpanOption{
		tracer.StartTime(s.StartTime()),
		tracer.WithSpanID(spanID64(s.SpanContext().SpanID())),
		tracer.ResourceName(s.Name()),
		tracer.SpanType(dataDogSpanType(s.SpanKind())),
		tracer.ServiceName(dd.options.ServiceName),
	}

	parent, err := dd.parentContext(s)
	if err != nil {
		return errors.Wrapf(err, "parent of %s", s.Name())
	}
	opts = append(opts, tracer.ChildOf(parent))

	for _, kv := range s.Attributes() {
		opts = append(opts, tracer.Tag(string(kv.Key), kv.Value.AsInterface()))
	}
	opts = append(opts, tracer.Tag("otel.trace_id", s.SpanContext().TraceID().String()))

	span := tracer.StartSpan(fmt.Sprintf("%s.request", s.SpanKind().String()), opts...)

	finish := []ddtrace.FinishOption{tracer.FinishTime(s.EndTime())}
	if s.Status().Code == codes.Error {
		finish = append(finish, tracer.WithError(errors.New(s.Status().Description)))
	}
	span.Finish(finish...)
	return nil
}

func (dd *DataDogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {

	var last error
	for _, s := range spans {
		if err := dd.exportSpan(s); err != nil {
			dd.logger.Error(err)
			last = err
		}
	}
	return last
}

func (dd *DataDogExporter) Shutdown(ctx context.Context) error {
	tracer.Stop()
	return nil
}

func startDataDogTracer(options DataDogTracerOptions, logger common.Logger) bool {

	disabled := utils.IsEmpty(options.AgentHost)
	if disabled {
		return false
	}

	addr := net.JoinHostPort(
		options.AgentHost,
		strconv.Itoa(options.AgentPort),
	)

	var opts []tracer.StartOption
	opts = append(opts, tracer.WithAgentAddr(addr))
	opts = append(opts, tracer.WithServiceName(options.ServiceName))
	opts = append(opts, tracer.WithServiceVersion(options.Version))
	opts = append(opts, tracer.WithEnv(options.Environment))

	if options.Debug {
		opts = append(opts, tracer.WithLogger(&DataDogInternalLogger{logger: logger}))
	}

	for k, v := range common.GetKeyValues(options.Tags) {
		opts = append(opts, tracer.WithGlobalTag(k, v))
	}

	tracer.Start(opts...)
	return true
}

func NewDataDogExporter(options DataDogTracerOptions, logger common.Logger, stdout *Stdout) *DataDogExporter {

	if logger == nil {
		logger = stdout
	}

	enabled := startDataDogTracer(options, logger)
	if !enabled {
		stdout.Debug("DataDog exporter is disabled.")
		return nil
	}

	logger.Info("DataDog exporter is up...")

	return &DataDogExporter{
		options: options,
		logger:  logger,
	}
}

func (dd *DataDogLogger) addSpanFields(span trace.Span, fields logrus.Fields) logrus.Fields {

	if span == nil {
		return fields
	}

	sc := span.SpanContext()
	if !sc.IsValid() {
		return fields
	}

	fields["dd.trace_id"] = strconv.FormatUint(low64(sc.TraceID()), 10)
	fields["dd.span_id"] = strconv.FormatUint(spanID64(sc.SpanID()), 10)
	return fields
}

func (dd *DataDogLogger) Info(obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.InfoLevel, obj, args...); exists {
		dd.log.WithFields(fields).Infoln(message)
	}
	return dd
}

func (dd *DataDogLogger) SpanInfo(span trace.Span, obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.InfoLevel, obj, args...); exists {
		fields = dd.addSpanFields(span, fields)
		dd.log.WithFields(fields).Infoln(message)
	}
	return dd
}

func (dd *DataDogLogger) Warn(obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.WarnLevel, obj, args...); exists {
		dd.log.WithFields(fields).Warnln(message)
	}
	return dd
}

func (dd *DataDogLogger) SpanWarn(span trace.Span, obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.WarnLevel, obj, args...); exists {
		fields = dd.addSpanFields(span, fields)
		dd.log.WithFields(fields).Warnln(message)
	}
	return dd
}

func (dd *DataDogLogger) Error(obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.ErrorLevel, obj, args...); exists {
		dd.log.WithFields(fields).Errorln(message)
	}
	return dd
}

func (dd *DataDogLogger) SpanError(span trace.Span, obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.ErrorLevel, obj, args...); exists {
		fields = dd.addSpanFields(span, fields)
		dd.log.WithFields(fields).Errorln(message)
	}
	return dd
}

func (dd *DataDogLogger) Debug(obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.DebugLevel, obj, args...); exists {
		dd.log.WithFields(fields).Debugln(message)
	}
	return dd
}

func (dd *DataDogLogger) SpanDebug(span trace.Span, obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.DebugLevel, obj, args...); exists {
		fields = dd.addSpanFields(span, fields)
		dd.log.WithFields(fields).Debugln(message)
	}
	return dd
}

func (dd *DataDogLogger) Panic(obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.PanicLevel, obj, args...); exists {
		dd.log.WithFields(fields).Panicln(message)
	}
	return dd
}

func (dd *DataDogLogger) SpanPanic(span trace.Span, obj interface{}, args ...interface{}) common.Logger {

	if exists, fields, message := dd.exists(logrus.PanicLevel, obj, args...); exists {
		fields = dd.addSpanFields(span, fields)
		dd.log.WithFields(fields).Panicln(message)
	}
	return dd
}

func (dd *DataDogLogger) Stack(offset int) common.Logger {
	dd.callerOffset = dd.callerOffset - offset
	return dd
}

func (dd *DataDogLogger) exists(level logrus.Level, obj interface{}, args ...interface{}) (bool, logrus.Fields, string) {

	exists, message := logMessage(dd.log.IsLevelEnabled(level), obj, args...)
	if !exists {
		return false, nil, ""
	}

	function, file, line := common.GetCallerInfo(dd.callerOffset + 5)
	fields := logrus.Fields{
		"file":    fmt.Sprintf("%s:%d", file, line),
		"func":    function,
		"service": dd.options.ServiceName,
		"version": dd.options.Version,
		"env":     dd.options.Environment,
	}
	return true, fields, message
}

func (dd *DataDogLogger) Stop() {
	if err := dd.connection.Close(); err != nil {
		dd.stdout.Error(err)
	}
}

func NewDataDogLogger(options DataDogLoggerOptions, logger common.Logger, stdout *Stdout) *DataDogLogger {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.AgentHost) {
		stdout.Debug("DataDog logger is disabled.")
		return nil
	}

	address := fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort)
	serverAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		stdout.Error(err)
		return nil
	}

	connection, err := net.DialUDP("udp", nil, serverAddr)
	if err != nil {
		stdout.Error(err)
		return nil
	}

	formatter := &logrus.JSONFormatter{}
	formatter.TimestampFormat = time.RFC3339Nano

	log := logrus.New()
	log.SetFormatter(formatter)

	level, err := logrus.ParseLevel(options.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(connection)

	logger.Info("DataDog logger is up...")

	return &DataDogLogger{
		connection:   connection,
		stdout:       stdout,
		log:          log,
		options:      options,
		callerOffset: 1,
	}
}

func (ddm *DataDogMeter) tags(labels common.Labels) []string {

	var tags []string

	for k, v := range common.GetKeyValues(ddm.options.Tags) {
		tags = append(tags, fmt.Sprintf("%s:%s", k, v))
	}
	tags = append(tags, fmt.Sprintf("dd.service:%s", ddm.options.ServiceName))
	tags = append(tags, fmt.Sprintf("dd.version:%s", ddm.options.Version))
	tags = append(tags, fmt.Sprintf("dd.env:%s", ddm.options.Environment))

	for _, kv := range common.MapToArray(labels) {
		tags = append(tags, strings.Replace(kv, "=", ":", 1))
	}
	return tags
}

func (ddm *DataDogMeter) name(name string, prefixes ...string) string {

	var names []string

	if !utils.IsEmpty(ddm.options.Prefix) {
		names = append(names, ddm.options.Prefix)
	}
	names = append(names, prefixes...)
	names = append(names, name)
	return strings.Join(names, ".")
}

func (ddmc *DataDogCounter) Inc() common.Counter {
	return ddmc.Add(1)
}

func (ddmc *DataDogCounter) Add(value int) common.Counter {

	if err := ddmc.meter.client.Count(ddmc.name, int64(value), ddmc.tags, 1); err != nil {
		ddmc.meter.logger.Error(err)
	}
	return ddmc
}

func (ddmg *DataDogGauge) Set(value float64) common.Gauge {

	if err := ddmg.meter.client.Gauge(ddmg.name, value, ddmg.tags, 1); err != nil {
		ddmg.meter.logger.Error(err)
	}
	return ddmg
}

func (ddmh *DataDogHistogram) Observe(value float64) common.Histogram {

	if err := ddmh.meter.client.Histogram(ddmh.name, value, ddmh.tags, 1); err != nil {
		ddmh.meter.logger.Error(err)
	}
	return ddmh
}

func (ddm *DataDogMeter) Counter(name, description string, labels common.Labels, prefixes ...string) common.Counter {

	return &DataDogCounter{
		meter: ddm,
		name:  ddm.name(name, prefixes...),
		tags:  ddm.tags(labels),
	}
}

func (ddm *DataDogMeter) Gauge(name, description string, labels common.Labels, prefixes ...string) common.Gauge {

	return &DataDogGauge{
		meter: ddm,
		name:  ddm.name(name, prefixes...),
		tags:  ddm.tags(labels),
	}
}

func (ddm *DataDogMeter) Histogram(name, description string, labels common.Labels, prefixes ...string) common.Histogram {

	return &DataDogHistogram{
		meter: ddm,
		name:  ddm.name(name, prefixes...),
		tags:  ddm.tags(labels),
	}
}

func (ddm *DataDogMeter) Stop() {
	if err := ddm.client.Close(); err != nil {
		ddm.logger.Error(err)
	}
}

func NewDataDogMeter(options DataDogMeterOptions, logger common.Logger, stdout *Stdout) *DataDogMeter {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.AgentHost) {
		stdout.Debug("DataDog meter is disabled.")
		return nil
	}

	client, err := statsd.New(fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort))
	if err != nil {
		logger.Error(err)
		return nil
	}

	logger.Info("DataDog meter is up...")

	return &DataDogMeter{
		options: options,
		logger:  logger,
		client:  client,
	}
}

type DataDogEventer struct {
	options DataDogEventerOptions
	logger  common.Logger
	client  *datadog.APIClient
	ctx     context.Context
	tags    []string
}

func (dde *DataDogEventer) Now(name string, attributes map[string]string) error {
	return dde.At(name, attributes, time.Now())
}

func (dde *DataDogEventer) At(name string, attributes map[string]string, when time.Time) error {
	return dde.Interval(name, attributes, when, when)
}

// Interval sends one event dated at begin; DataDog events have no end, so the duration goes to the text.
func (dde *DataDogEventer) Interval(name string, attributes map[string]string, begin, end time.Time) error {

	text := annotationText(name, attributes)
	if end.After(begin) {
		text = fmt.Sprintf("%s\nduration: %s", text, end.Sub(begin))
	}

	body := datadog.NewEventCreateRequest(text, name)
	body.SetDateHappened(begin.Unix())
	body.SetAggregationKey(name)
	body.SetPriority(datadog.EVENTPRIORITY_NORMAL)

	body.SetAlertType(dataDogAlertType(attributes))

	tags := append([]string{}, dde.tags...)
	if target, ok := attributes["target"]; ok {
		tags = append(tags, fmt.Sprintf("target:%s", target))
	}
	body.SetTags(tags)

	resp, r, err := dde.client.EventsApi.CreateEvent(dde.ctx, *body)
	if err != nil {
		if r != nil {
			err = errors.Wrapf(err, "datadog event HTTP %d", r.StatusCode)
		}
		dde.logger.Error(err)
		return err
	}
	dde.logger.Debug("DataDog event %d. %s", resp.GetId(), resp.GetStatus())
	return nil
}

func (dde *DataDogEventer) Stop() {
	dde.client.GetConfig().HTTPClient.CloseIdleConnections()
}

// dataDogAlertType is error for exceptions and 5xx, warning for other statuses.
func dataDogAlertType(attributes map[string]string) datadog.EventAlertType {

	if _, ok := attributes["exception"]; ok {
		return datadog.EVENTALERTTYPE_ERROR
	}
	status, ok := attributes["status"]
	if !ok {
		return datadog.EVENTALERTTYPE_INFO
	}
	if code, err := strconv.Atoi(status); err == nil && code >= 500 {
		return datadog.EVENTALERTTYPE_ERROR
	}
	return datadog.EVENTALERTTYPE_WARNING
}

func dataDogEventerContext(options DataDogEventerOptions) context.Context {

	ctx := context.WithValue(context.Background(), datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {Key: options.ApiKey},
	})
	if !utils.IsEmpty(options.Site) {
		ctx = context.WithValue(ctx, datadog.ContextServerVariables, map[string]string{
			"site": options.Site,
		})
	}
	return ctx
}

func dataDogEventerTags(options DataDogOptions) []string {

	var tags []string
	for k, v := range common.GetKeyValues(options.Tags) {
		tags = append(tags, fmt.Sprintf("%s:%s", k, v))
	}
	sort.Strings(tags)

	if !utils.IsEmpty(options.ServiceName) {
		tags = append(tags, fmt.Sprintf("service:%s", options.ServiceName))
	}
	if !utils.IsEmpty(options.Environment) {
		tags = append(tags, fmt.Sprintf("env:%s", options.Environment))
	}
	if !utils.IsEmpty(options.Version) {
		tags = append(tags, fmt.Sprintf("version:%s", options.Version))
	}
	return tags
}

func NewDataDogEventer(options DataDogEventerOptions, logger common.Logger, stdout *Stdout) *DataDogEventer {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.ApiKey) {
		stdout.Debug("DataDog eventer is disabled.")
		return nil
	}

	cfg := datadog.NewConfiguration()
	cfg.HTTPClient = common.MakeHttpClient(options.Timeout)
	cfg.Debug = options.Debug

	if !utils.IsEmpty(options.URL) {
		u, err := url.Parse(options.URL)
		if err != nil {
			stdout.Error(err)
			return nil
		}
		cfg.Scheme = u.Scheme
		cfg.Host = u.Host
	}

	logger.Info("DataDog eventer is up...")

	return &DataDogEventer{
		options: options,
		logger:  logger,
		client:  datadog.NewAPIClient(cfg),
		ctx:     dataDogEventerContext(options),
		tags:    dataDogEventerTags(options.DataDogOptions),
	}
}
