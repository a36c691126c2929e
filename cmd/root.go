package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/devopsext/webtrace/common"
	"github.com/devopsext/webtrace/instrumentation"
	"github.com/devopsext/webtrace/provider"
	"github.com/devopsext/webtrace/web"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var VERSION = "unknown"

var logs = common.NewLogs()
var traces = common.NewTraces()
var metrics = common.NewMetrics()
var events = common.NewEvents()
var stdout *provider.Stdout
var mainWG sync.WaitGroup

type RootOptions struct {
	Logs     []string
	Metrics  []string
	Traces   []string
	Events   []string
	Listen   string
	Excluded []string
	Legacy   bool
}

var rootOptions = RootOptions{

	Logs:    []string{"stdout"},
	Metrics: []string{"prometheus"},
	Traces:  []string{},
	Events:  []string{},
	Listen:  "127.0.0.1:8888",
	Legacy:  true,
}

var stdoutOptions = provider.StdoutOptions{

	Format:          "text",
	Level:           "info",
	Template:        "{{.file}} {{.msg}}",
	TimestampFormat: time.RFC3339Nano,
	TextColors:      true,
}

var prometheusOptions = provider.PrometheusOptions{

	URL:    "/metrics",
	Listen: "127.0.0.1:8080",
	Prefix: "webtrace",
}

var jaegerOptions = provider.JaegerOptions{
	ServiceName:         "webtrace",
	AgentHost:           "",
	AgentPort:           6831,
	Endpoint:            "",
	User:                "",
	Password:            "",
	BufferFlushInterval: 0,
	QueueSize:           0,
	Tags:                "",
}

var datadogOptions = provider.DataDogOptions{
	ServiceName: "webtrace",
	Environment: "none",
	Tags:        "",
}

var datadogTracerOptions = provider.DataDogTracerOptions{
	AgentHost: "",
	AgentPort: 8126,
}

var datadogLoggerOptions = provider.DataDogLoggerOptions{
	AgentHost: "",
	AgentPort: 10518,
	Level:     "info",
}

var datadogMeterOptions = provider.DataDogMeterOptions{
	AgentHost: "",
	AgentPort: 8125,
	Prefix:    "webtrace",
}

var newrelicOptions = provider.NewRelicOptions{
	ServiceName: "webtrace",
	Environment: "none",
}

var newrelicTracerOptions = provider.NewRelicTracerOptions{
	Endpoint: "",
}

var newrelicLoggerOptions = provider.NewRelicLoggerOptions{
	Endpoint:  "",
	AgentHost: "",
	AgentPort: 5171,
	Level:     "info",
}

var newrelicMeterOptions = provider.NewRelicMeterOptions{
	Endpoint: "",
	Prefix:   "webtrace",
}

var opentelemetryOptions = provider.OpentelemetryOptions{
	ServiceName: "webtrace",
	Environment: "none",
}

var opentelemetryTracerOptions = provider.OpentelemetryTracerOptions{
	AgentHost: "",
	AgentPort: 4317,
}

var opentelemetryMeterOptions = provider.OpentelemetryMeterOptions{
	AgentHost: "",
	AgentPort: 4317,
	Prefix:    "webtrace",
}

var datadogEventerOptions = provider.DataDogEventerOptions{
	Site:    "",
	Timeout: 5,
}

var grafanaEventerOptions = provider.GrafanaEventerOptions{
	GrafanaOptions: provider.GrafanaOptions{
		Timeout:  5,
		Duration: 1,
	},
	Endpoint: "/api/annotations",
}

var slackOptions = provider.SlackOptions{
	Timeout: 5,
}

func interceptSyscall() chan os.Signal {

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	return c
}

func registerLogs() {

	stdoutOptions.Version = VERSION
	stdout = provider.NewStdout(stdoutOptions)
	stdout.SetCallerOffset(2)
	if common.HasElem(rootOptions.Logs, "stdout") {
		logs.Register(stdout)
	}

	datadogLoggerOptions.DataDogOptions = datadogOptions
	datadogLoggerOptions.Version = VERSION
	if common.HasElem(rootOptions.Logs, "datadog") {
		if datadogLogger := provider.NewDataDogLogger(datadogLoggerOptions, logs, stdout); datadogLogger != nil {
			logs.Register(datadogLogger)
		}
	}

	newrelicLoggerOptions.NewRelicOptions = newrelicOptions
	newrelicLoggerOptions.Version = VERSION
	if common.HasElem(rootOptions.Logs, "newrelic") {
		if newrelicLogger := provider.NewNewRelicLogger(newrelicLoggerOptions, logs, stdout); newrelicLogger != nil {
			logs.Register(newrelicLogger)
		}
	}
}

func registerMetrics() {

	prometheusOptions.Version = VERSION
	if common.HasElem(rootOptions.Metrics, "prometheus") {
		prometheus := provider.NewPrometheusMeter(prometheusOptions, logs, stdout)
		prometheus.StartInWaitGroup(&mainWG)
		metrics.Register(prometheus)
	}

	datadogMeterOptions.DataDogOptions = datadogOptions
	datadogMeterOptions.Version = VERSION
	if common.HasElem(rootOptions.Metrics, "datadog") {
		if datadogMeter := provider.NewDataDogMeter(datadogMeterOptions, logs, stdout); datadogMeter != nil {
			metrics.Register(datadogMeter)
		}
	}

	newrelicMeterOptions.NewRelicOptions = newrelicOptions
	newrelicMeterOptions.Version = VERSION
	if common.HasElem(rootOptions.Metrics, "newrelic") {
		if newrelicMeter := provider.NewNewRelicMeter(newrelicMeterOptions, logs, stdout); newrelicMeter != nil {
			metrics.Register(newrelicMeter)
		}
	}

	opentelemetryMeterOptions.OpentelemetryOptions = opentelemetryOptions
	opentelemetryMeterOptions.Version = VERSION
	if common.HasElem(rootOptions.Metrics, "opentelemetry") {
		if opentelemetryMeter := provider.NewOpentelemetryMeter(opentelemetryMeterOptions, logs, stdout); opentelemetryMeter != nil {
			metrics.Register(opentelemetryMeter)
		}
	}
}

func registerTraces() {

	jaegerOptions.Version = VERSION
	if common.HasElem(rootOptions.Traces, "jaeger") {
		if jaeger := provider.NewJaegerExporter(jaegerOptions, logs, stdout); jaeger != nil {
			traces.Register(jaeger)
		}
	}

	datadogTracerOptions.DataDogOptions = datadogOptions
	datadogTracerOptions.Version = VERSION
	if common.HasElem(rootOptions.Traces, "datadog") {
		if datadog := provider.NewDataDogExporter(datadogTracerOptions, logs, stdout); datadog != nil {
			traces.Register(datadog)
		}
	}

	newrelicTracerOptions.NewRelicOptions = newrelicOptions
	newrelicTracerOptions.Version = VERSION
	if common.HasElem(rootOptions.Traces, "newrelic") {
		if newrelic := provider.NewNewRelicExporter(newrelicTracerOptions, logs, stdout); newrelic != nil {
			traces.Register(newrelic)
		}
	}
}

func registerEvents() {

	datadogEventerOptions.DataDogOptions = datadogOptions
	datadogEventerOptions.Version = VERSION
	if common.HasElem(rootOptions.Events, "datadog") {
		if datadog := provider.NewDataDogEventer(datadogEventerOptions, logs, stdout); datadog != nil {
			events.Register(datadog)
		}
	}

	grafanaEventerOptions.Version = VERSION
	if common.HasElem(rootOptions.Events, "grafana") {
		if grafana := provider.NewGrafanaEventer(grafanaEventerOptions, logs, stdout); grafana != nil {
			events.Register(grafana)
		}
	}

	if common.HasElem(rootOptions.Events, "slack") {
		if slack := provider.NewSlackEventer(slackOptions, logs, stdout); slack != nil {
			events.Register(slack)
		}
	}
}

func serve() error {

	config, err := common.LoadConfig()
	if err != nil {
		return err
	}

	excluded := common.NewExcludeList(append(config.ExcludedURLs, rootOptions.Excluded...))

	var processors []sdktrace.SpanProcessor
	var spanMetrics *instrumentation.SpanMetrics
	if metrics.Len() > 0 {
		spanMetrics = instrumentation.NewSpanMetrics(metrics)
		processors = append(processors, spanMetrics)
	}
	if events.Len() > 0 {
		processors = append(processors, instrumentation.NewErrorEvents(events, logs))
	}

	opentelemetryTracerOptions.OpentelemetryOptions = opentelemetryOptions
	opentelemetryTracerOptions.Version = VERSION
	tracer := provider.NewOpentelemetryTracer(opentelemetryTracerOptions, traces, processors, logs, stdout)
	if tracer == nil {
		return errors.New("couldn't start tracer provider")
	}
	defer tracer.Stop()

	inst, err := instrumentation.NewInstrumentor(instrumentation.Options{
		Component: config.Component,
		Excluded:  excluded,
		Legacy:    rootOptions.Legacy && config.Legacy,
	}, tracer.Provider(), logs)
	if err != nil {
		return err
	}

	client := web.NewAsyncClient(web.ClientOptions{Timeout: 30, RetryMax: config.RetryMax}, logs)
	app, err := web.NewApplication(demoRoutes(client, fmt.Sprintf("http://%s", rootOptions.Listen)), logs)
	if err != nil {
		return err
	}

	inst.InstrumentApplication(app)
	inst.InstrumentClient(client)
	defer inst.Uninstrument()

	logs.Info("Instrumented handlers: %v", inst.Handlers())

	server := &http.Server{Addr: rootOptions.Listen, Handler: app}
	signals := interceptSyscall()

	go func() {
		<-signals
		logs.Info("Exiting...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logs.Error(err)
		}
	}()

	logs.Info("Listening on %s...", rootOptions.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	if spanMetrics != nil {
		logs.Debug("In flight requests on exit: %d", spanMetrics.InFlight())
	}
	return nil
}

func Execute() {

	rootCmd := &cobra.Command{
		Use:   "webtrace",
		Short: "Traced web application",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {

			registerLogs()
			logs.Info("Booting...")

			registerMetrics()
			registerTraces()
			registerEvents()
		},
		Run: func(cmd *cobra.Command, args []string) {

			if err := serve(); err != nil {
				logs.Error(err)
				os.Exit(1)
			}

			events.Stop()
			metrics.Stop()
		},
	}

	flags := rootCmd.PersistentFlags()

	flags.StringSliceVar(&rootOptions.Logs, "logs", rootOptions.Logs, "Log providers: stdout, datadog, newrelic")
	flags.StringSliceVar(&rootOptions.Metrics, "metrics", rootOptions.Metrics, "Metric providers: prometheus, datadog, newrelic, opentelemetry")
	flags.StringSliceVar(&rootOptions.Traces, "traces", rootOptions.Traces, "Trace providers: jaeger, datadog, newrelic")
	flags.StringSliceVar(&rootOptions.Events, "events", rootOptions.Events, "Event providers: datadog, grafana, slack")
	flags.StringVar(&rootOptions.Listen, "listen", rootOptions.Listen, "Application listen")
	flags.StringSliceVar(&rootOptions.Excluded, "excluded-urls", rootOptions.Excluded, "Excluded urls, exact or regular expressions")
	flags.BoolVar(&rootOptions.Legacy, "legacy-headers", rootOptions.Legacy, "Accept and emit legacy trace headers")

	flags.StringVar(&stdoutOptions.Format, "stdout-format", stdoutOptions.Format, "Stdout format: json, text, template")
	flags.StringVar(&stdoutOptions.Level, "stdout-level", stdoutOptions.Level, "Stdout level: info, warn, error, debug, panic")
	flags.StringVar(&stdoutOptions.Template, "stdout-template", stdoutOptions.Template, "Stdout template")
	flags.StringVar(&stdoutOptions.TimestampFormat, "stdout-timestamp-format", stdoutOptions.TimestampFormat, "Stdout timestamp format")
	flags.BoolVar(&stdoutOptions.TextColors, "stdout-text-colors", stdoutOptions.TextColors, "Stdout text colors")

	flags.StringVar(&prometheusOptions.URL, "prometheus-url", prometheusOptions.URL, "Prometheus endpoint url")
	flags.StringVar(&prometheusOptions.Listen, "prometheus-listen", prometheusOptions.Listen, "Prometheus listen")
	flags.StringVar(&prometheusOptions.Prefix, "prometheus-prefix", prometheusOptions.Prefix, "Prometheus prefix")

	flags.StringVar(&jaegerOptions.ServiceName, "jaeger-service-name", jaegerOptions.ServiceName, "Jaeger service name")
	flags.StringVar(&jaegerOptions.AgentHost, "jaeger-agent-host", jaegerOptions.AgentHost, "Jaeger agent host")
	flags.IntVar(&jaegerOptions.AgentPort, "jaeger-agent-port", jaegerOptions.AgentPort, "Jaeger agent port")
	flags.StringVar(&jaegerOptions.Endpoint, "jaeger-endpoint", jaegerOptions.Endpoint, "Jaeger endpoint")
	flags.StringVar(&jaegerOptions.User, "jaeger-user", jaegerOptions.User, "Jaeger user")
	flags.StringVar(&jaegerOptions.Password, "jaeger-password", jaegerOptions.Password, "Jaeger password")
	flags.IntVar(&jaegerOptions.BufferFlushInterval, "jaeger-buffer-flush-interval", jaegerOptions.BufferFlushInterval, "Jaeger buffer flush interval")
	flags.IntVar(&jaegerOptions.QueueSize, "jaeger-queue-size", jaegerOptions.QueueSize, "Jaeger queue size")
	flags.StringVar(&jaegerOptions.Tags, "jaeger-tags", jaegerOptions.Tags, "Jaeger tags, comma separated list of name=value")

	flags.StringVar(&datadogOptions.ServiceName, "datadog-service-name", datadogOptions.ServiceName, "DataDog service name")
	flags.StringVar(&datadogOptions.Environment, "datadog-environment", datadogOptions.Environment, "DataDog environment")
	flags.StringVar(&datadogOptions.Tags, "datadog-tags", datadogOptions.Tags, "DataDog tags")
	flags.BoolVar(&datadogOptions.Debug, "datadog-debug", datadogOptions.Debug, "DataDog debug")
	flags.StringVar(&datadogOptions.ApiKey, "datadog-api-key", datadogOptions.ApiKey, "DataDog API key")

	flags.StringVar(&datadogTracerOptions.AgentHost, "datadog-tracer-host", datadogTracerOptions.AgentHost, "DataDog tracer host")
	flags.IntVar(&datadogTracerOptions.AgentPort, "datadog-tracer-port", datadogTracerOptions.AgentPort, "Datadog tracer port")

	flags.StringVar(&datadogLoggerOptions.AgentHost, "datadog-logger-host", datadogLoggerOptions.AgentHost, "DataDog logger host")
	flags.IntVar(&datadogLoggerOptions.AgentPort, "datadog-logger-port", datadogLoggerOptions.AgentPort, "Datadog logger port")
	flags.StringVar(&datadogLoggerOptions.Level, "datadog-logger-level", datadogLoggerOptions.Level, "DataDog logger level: info, warn, error, debug, panic")

	flags.StringVar(&datadogMeterOptions.AgentHost, "datadog-meter-host", datadogMeterOptions.AgentHost, "DataDog meter host")
	flags.IntVar(&datadogMeterOptions.AgentPort, "datadog-meter-port", datadogMeterOptions.AgentPort, "Datadog meter port")
	flags.StringVar(&datadogMeterOptions.Prefix, "datadog-meter-prefix", datadogMeterOptions.Prefix, "DataDog meter prefix")

	flags.StringVar(&datadogEventerOptions.Site, "datadog-eventer-site", datadogEventerOptions.Site, "DataDog eventer site: datadoghq.com, datadoghq.eu, ...")
	flags.StringVar(&datadogEventerOptions.URL, "datadog-eventer-url", datadogEventerOptions.URL, "DataDog eventer API URL override")

	flags.StringVar(&newrelicOptions.ApiKey, "newrelic-api-key", newrelicOptions.ApiKey, "NewRelic API key")
	flags.StringVar(&newrelicOptions.ServiceName, "newrelic-service-name", newrelicOptions.ServiceName, "NewRelic service name")
	flags.StringVar(&newrelicOptions.Environment, "newrelic-environment", newrelicOptions.Environment, "NewRelic environment")
	flags.StringVar(&newrelicOptions.Attributes, "newrelic-attributes", newrelicOptions.Attributes, "NewRelic attributes")
	flags.BoolVar(&newrelicOptions.Debug, "newrelic-debug", newrelicOptions.Debug, "NewRelic debug")

	flags.StringVar(&newrelicTracerOptions.Endpoint, "newrelic-tracer-endpoint", newrelicTracerOptions.Endpoint, "NewRelic tracer endpoint")

	flags.StringVar(&newrelicLoggerOptions.Endpoint, "newrelic-logger-endpoint", newrelicLoggerOptions.Endpoint, "NewRelic logger endpoint")
	flags.StringVar(&newrelicLoggerOptions.AgentHost, "newrelic-logger-host", newrelicLoggerOptions.AgentHost, "NewRelic logger host")
	flags.IntVar(&newrelicLoggerOptions.AgentPort, "newrelic-logger-port", newrelicLoggerOptions.AgentPort, "NewRelic logger port")
	flags.StringVar(&newrelicLoggerOptions.Level, "newrelic-logger-level", newrelicLoggerOptions.Level, "NewRelic logger level: info, warn, error, debug, panic")

	flags.StringVar(&newrelicMeterOptions.Endpoint, "newrelic-meter-endpoint", newrelicMeterOptions.Endpoint, "NewRelic meter endpoint")
	flags.StringVar(&newrelicMeterOptions.Prefix, "newrelic-meter-prefix", newrelicMeterOptions.Prefix, "NewRelic meter prefix")

	flags.StringVar(&opentelemetryOptions.ServiceName, "opentelemetry-service-name", opentelemetryOptions.ServiceName, "Opentelemetry service name")
	flags.StringVar(&opentelemetryOptions.Environment, "opentelemetry-environment", opentelemetryOptions.Environment, "Opentelemetry environment")
	flags.StringVar(&opentelemetryOptions.Attributes, "opentelemetry-attributes", opentelemetryOptions.Attributes, "Opentelemetry attributes")

	flags.StringVar(&opentelemetryTracerOptions.AgentHost, "opentelemetry-tracer-host", opentelemetryTracerOptions.AgentHost, "Opentelemetry tracer host")
	flags.IntVar(&opentelemetryTracerOptions.AgentPort, "opentelemetry-tracer-port", opentelemetryTracerOptions.AgentPort, "Opentelemetry tracer port")

	flags.StringVar(&opentelemetryMeterOptions.AgentHost, "opentelemetry-meter-host", opentelemetryMeterOptions.AgentHost, "Opentelemetry meter host")
	flags.IntVar(&opentelemetryMeterOptions.AgentPort, "opentelemetry-meter-port", opentelemetryMeterOptions.AgentPort, "Opentelemetry meter port")
	flags.StringVar(&opentelemetryMeterOptions.Prefix, "opentelemetry-meter-prefix", opentelemetryMeterOptions.Prefix, "Opentelemetry meter prefix")

	flags.StringVar(&grafanaEventerOptions.URL, "grafana-url", grafanaEventerOptions.URL, "Grafana URL")
	flags.StringVar(&grafanaEventerOptions.ApiKey, "grafana-api-key", grafanaEventerOptions.ApiKey, "Grafana API key")
	flags.StringVar(&grafanaEventerOptions.Tags, "grafana-tags", grafanaEventerOptions.Tags, "Grafana tags")
	flags.StringVar(&grafanaEventerOptions.Endpoint, "grafana-endpoint", grafanaEventerOptions.Endpoint, "Grafana annotations endpoint")

	flags.StringVar(&slackOptions.WebHook, "slack-webhook", slackOptions.WebHook, "Slack webhook")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(VERSION)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		logs.Error(err)
		os.Exit(1)
	}
}
