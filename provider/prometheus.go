package provider

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"
)

type PrometheusOptions struct {
	URL     string
	Listen  string
	Version string
	Prefix  string
}

type PrometheusCounter struct {
	meter   *PrometheusMeter
	counter *metrics.Counter
}

type PrometheusGauge struct {
	meter *PrometheusMeter
	bits  uint64
	gauge *metrics.Gauge
}

type PrometheusHistogram struct {
	meter     *PrometheusMeter
	histogram *metrics.Histogram
}

type PrometheusMeter struct {
	options  PrometheusOptions
	logger   common.Logger
	set      *metrics.Set
	mu       sync.Mutex
	listener net.Listener
}

func (p *PrometheusMeter) buildIdent(name string, labels common.Labels, prefixes ...string) string {

	var names []string

	if !utils.IsEmpty(p.options.Prefix) {
		names = append(names, p.options.Prefix)
	}

	names = append(names, prefixes...)
	names = append(names, name)
	name = strings.Join(names, "_")

	lbs := ""
	if len(labels) > 0 {
		arr := []string{}
		for k, v := range labels {
			arr = append(arr, fmt.Sprintf(`%s="%s"`, k, v))
		}
		sort.Strings(arr)
		lbs = fmt.Sprintf("{%s}", strings.Join(arr, ","))
	}
	return fmt.Sprintf(`%s%s`, name, lbs)
}

func (pc *PrometheusCounter) Inc() common.Counter {

	pc.counter.Inc()
	return pc
}

func (pc *PrometheusCounter) Add(value int) common.Counter {

	pc.counter.Add(value)
	return pc
}

func (p *PrometheusMeter) Counter(name, description string, labels common.Labels, prefixes ...string) common.Counter {

	return &PrometheusCounter{
		meter:   p,
		counter: p.set.GetOrCreateCounter(p.buildIdent(name, labels, prefixes...)),
	}
}

func (pg *PrometheusGauge) Set(value float64) common.Gauge {

	atomic.StoreUint64(&pg.bits, math.Float64bits(value))
	return pg
}

func (pg *PrometheusGauge) value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&pg.bits))
}

func (p *PrometheusMeter) Gauge(name, description string, labels common.Labels, prefixes ...string) common.Gauge {

	gauge := &PrometheusGauge{meter: p}
	// a gauge is created once per ident, later callers share the first callback
	gauge.gauge = p.set.GetOrCreateGauge(p.buildIdent(name, labels, prefixes...), gauge.value)
	return gauge
}

func (ph *PrometheusHistogram) Observe(value float64) common.Histogram {

	ph.histogram.Update(value)
	return ph
}

func (p *PrometheusMeter) Histogram(name, description string, labels common.Labels, prefixes ...string) common.Histogram {

	return &PrometheusHistogram{
		meter:     p,
		histogram: p.set.GetOrCreateHistogram(p.buildIdent(name, labels, prefixes...)),
	}
}

// ServeHTTP writes the meter's metrics in the Prometheus text format.
func (p *PrometheusMeter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.set.WritePrometheus(w)
}

func (p *PrometheusMeter) Start() bool {

	p.logger.Info("Start prometheus endpoint...")

	mux := http.NewServeMux()
	mux.Handle(p.options.URL, p)

	listener, err := net.Listen("tcp", p.options.Listen)
	if err != nil {
		p.logger.Error(err)
		return false
	}

	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	p.logger.Info("Prometheus is up. Listening...")
	err = http.Serve(listener, mux)
	if err != nil {
		p.logger.Error(err)
		return false
	}
	return true
}

func (p *PrometheusMeter) StartInWaitGroup(wg *sync.WaitGroup) {

	wg.Add(1)

	go func(wg *sync.WaitGroup) {

		defer wg.Done()
		p.Start()
	}(wg)
}

func (p *PrometheusMeter) Stop() {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.listener != nil {
		p.listener.Close()
	}
}

func NewPrometheusMeter(options PrometheusOptions, logger common.Logger, stdout *Stdout) *PrometheusMeter {

	if logger == nil {
		logger = stdout
	}

	return &PrometheusMeter{
		options: options,
		logger:  logger,
		set:     metrics.NewSet(),
	}
}
